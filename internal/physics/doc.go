// Package physics implements the dynamics models the lab certifies
// controllers for. All models satisfy dynamo.System; the ones used for
// region-of-attraction work additionally satisfy dynamo.Linearizable so an
// LQR policy and a quadratic Lyapunov baseline can be synthesized from them.
package physics
