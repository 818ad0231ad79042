package nn

// Parameter is a trainable weight matrix (or bias vector, with Cols == 1)
// paired with its gradient accumulator. Optimizers mutate Value in place.
type Parameter struct {
	Name string
	Rows int
	Cols int

	Value []float64
	Grad  []float64
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Rows:  rows,
		Cols:  cols,
		Value: make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

func (p *Parameter) at(i, j int) float64 {
	return p.Value[i*p.Cols+j]
}

func (p *Parameter) addGrad(i, j int, g float64) {
	p.Grad[i*p.Cols+j] += g
}

// ZeroGrad clears the gradient accumulator.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}
