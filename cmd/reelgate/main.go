package main

// ReelGate is the admission-control and generation-lifecycle core of the
// BrightReel marketing-video platform. It gates every costly call to the
// generative backend and tracks asynchronous generation jobs from
// submission to terminal state.
func main() {
	Execute()
}
