package meta

// SignalSys is the signal name reported for seccomp denials.
const SignalSys = "SIGSYS"

// signalNames lists the signals reported by name in the result record;
// everything else is written as signal_number.
var signalNames = map[int]string{
	1:  "SIGHUP",
	2:  "SIGINT",
	3:  "SIGQUIT",
	4:  "SIGILL",
	5:  "SIGTRAP",
	6:  "SIGABRT",
	7:  "SIGBUS",
	8:  "SIGFPE",
	9:  "SIGKILL",
	10: "SIGUSR1",
	11: "SIGSEGV",
	12: "SIGUSR2",
	13: "SIGPIPE",
	14: "SIGALRM",
	15: "SIGTERM",
	16: "SIGSTKFLT",
	17: "SIGCHLD",
	18: "SIGCONT",
	19: "SIGSTOP",
	20: "SIGTSTP",
	21: "SIGTTIN",
	22: "SIGTTOU",
	23: "SIGURG",
	24: "SIGXCPU",
	25: "SIGXFSZ",
	26: "SIGVTALRM",
	27: "SIGPROF",
	28: "SIGWINCH",
	29: "SIGIO",
	30: "SIGPWR",
	31: "SIGSYS",
}

var signalNumbers = func() map[string]int {
	m := make(map[string]int, len(signalNames))
	for n, name := range signalNames {
		m[name] = n
	}
	return m
}()

// SignalName returns the conventional name for signo.
func SignalName(signo int) (string, bool) {
	name, ok := signalNames[signo]
	return name, ok
}

// SignalNumber returns the number for a conventional signal name.
func SignalNumber(name string) (int, bool) {
	n, ok := signalNumbers[name]
	return n, ok
}
