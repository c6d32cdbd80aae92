package logger

const (
	Main     = "main"
	Capture  = "capture"
	Classify = "classify"
	DevMan   = "devman"
	Health   = "health"
	Monitor  = "monitor"
	PortMap  = "portmap"
	IfMgr    = "ifmgr"
	Exporter = "exporter"
	Config   = "config"
)
