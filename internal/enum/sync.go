package enum

type AccountType string

const (
	AccountGmail   AccountType = "gmail"
	AccountZoho    AccountType = "zoho"
	AccountGeneric AccountType = "generic"
)

func (t AccountType) String() string {
	return string(t)
}

type Operation string

const (
	OperationPull Operation = "pull"
	OperationPush Operation = "push"
)

func (t Operation) String() string {
	return string(t)
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
	RunFailed    RunStatus = "failed"
)

func (t RunStatus) String() string {
	return string(t)
}

type PullStatus string

const (
	PullNew     PullStatus = "new"
	PullSkipped PullStatus = "skipped"
	PullFailed  PullStatus = "failed"
)

func (t PullStatus) String() string {
	return string(t)
}

type StoreLayout string

const (
	LayoutTree   StoreLayout = "tree"
	LayoutSQLite StoreLayout = "sqlite"
)

func (t StoreLayout) String() string {
	return string(t)
}
