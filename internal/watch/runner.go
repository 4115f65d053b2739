package watch

// Runner is the execution boundary for checksum computations. Run submits a
// side-effect-free computation to be executed off the control loop;
// completion is reported by the computation itself posting back through the
// watcher. The contract is fire-and-forget: Run must not block on the
// computation.
type Runner interface {
	Run(fn func())
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(func())

// Run calls f(fn).
func (f RunnerFunc) Run(fn func()) {
	f(fn)
}

type goRunner struct{}

func (goRunner) Run(fn func()) {
	go fn()
}
