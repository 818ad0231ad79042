// Package control synthesizes and applies feedback controllers.
//
// The LQR pipeline solves the continuous-time algebraic Riccati equation for
// a linearized model and hands back both the gain matrix and the cost-to-go
// matrix P. The lab reuses P as the quadratic Lyapunov baseline, so the
// controller and its first stability certificate come from the same solve.
package control
