package access

type State string

const (
	StateTrial   State = "trial"
	StateFull    State = "full"
	StateLimited State = "limited"
	StateLocked  State = "locked"
)
