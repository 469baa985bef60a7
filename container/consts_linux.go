package container

// InitArg is the sentinel argv[1] that turns a re-executed omegajail binary
// into the in-container init process.
const InitArg = "omegajail-init"

// Well-known descriptors reserved across the clone boundary. The supervisor
// guarantees the right descriptor occupies each slot before launching init;
// init consumes them by number.
const (
	LoggingFd = 3 // log sink, closed before the program execs
	MetaFd    = 4 // metadata output
	SigsysFd  = 5 // sigsys classifier socket
	PayloadFd = 6 // gob-encoded payload, read and closed by init
)

// initComm is the process title init gives itself after the fork.
const initComm = "minijail-init"

const initMaxProc = 1
