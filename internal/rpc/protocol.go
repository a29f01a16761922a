package rpc

const (
	cmdPing       = "PING"
	cmdDefinition = "DEFINITION"
	cmdStatus     = "STATUS"
	cmdAbort      = "ABORT"
)
