// Package ledstatus implements the closed status-code taxonomy shared by
// ledctl and ledmon. Startup failures and CLI surfaces return *Error (a Code
// plus context) as the error; inner packages still wrap plain errors with fmt.Errorf and
// only translate to a Code at the process boundary.
package ledstatus

import "fmt"

// Code is one member of the closed status enumeration. The numeric values
// are stable and are surfaced as process exit codes.
type Code int

const (
	Success Code = iota
	BufferOverflow
	NullPointer
	OutOfMemory
	OutOfRange
	InvalidNode
	DataError
	IBPIDetermineError
	InvalidPath
	InvalidSuboption
	InvalidState
	SizeError
	FileOpenError
	FileReadError
	FileWriteError
	FileLockError
	DirOpenError
	SysfsPathError
	SysfsInitError
	SysfsScanError
	SysfsResetError
	ListEmpty
	ListInitError
	BlockListError
	VolumeListError
	CntrlListError
	SlaveListError
	CntnrListError
	EncloListError
	SlotsListError
	InvalidFormat
	LedmonInit
	LedmonRunning
	OnExitError
	InvalidController
	NotSupported
	StatError
	CmdlineError
	NotAPrivilegedUser
	ConfigFileError
	LogFileError
)

var names = map[Code]string{
	Success:             "SUCCESS",
	BufferOverflow:      "BUFFER_OVERFLOW",
	NullPointer:         "NULL_POINTER",
	OutOfMemory:         "OUT_OF_MEMORY",
	OutOfRange:          "OUT_OF_RANGE",
	InvalidNode:         "INVALID_NODE",
	DataError:           "DATA_ERROR",
	IBPIDetermineError:  "IBPI_DETERMINE_ERROR",
	InvalidPath:         "INVALID_PATH",
	InvalidSuboption:    "INVALID_SUBOPTION",
	InvalidState:        "INVALID_STATE",
	SizeError:           "SIZE_ERROR",
	FileOpenError:       "FILE_OPEN_ERROR",
	FileReadError:       "FILE_READ_ERROR",
	FileWriteError:      "FILE_WRITE_ERROR",
	FileLockError:       "FILE_LOCK_ERROR",
	DirOpenError:        "DIR_OPEN_ERROR",
	SysfsPathError:      "SYSFS_PATH_ERROR",
	SysfsInitError:      "SYSFS_INIT_ERROR",
	SysfsScanError:      "SYSFS_SCAN_ERROR",
	SysfsResetError:     "SYSFS_RESET_ERROR",
	ListEmpty:           "LIST_EMPTY",
	ListInitError:       "LIST_INIT_ERROR",
	BlockListError:      "BLOCK_LIST_ERROR",
	VolumeListError:     "VOLUME_LIST_ERROR",
	CntrlListError:      "CNTRL_LIST_ERROR",
	SlaveListError:      "SLAVE_LIST_ERROR",
	CntnrListError:      "CNTNR_LIST_ERROR",
	EncloListError:      "ENCLO_LIST_ERROR",
	SlotsListError:      "SLOTS_LIST_ERROR",
	InvalidFormat:       "INVALID_FORMAT",
	LedmonInit:          "LEDMON_INIT",
	LedmonRunning:       "LEDMON_RUNNING",
	OnExitError:         "ONEXIT_ERROR",
	InvalidController:   "INVALID_CONTROLLER",
	NotSupported:        "NOT_SUPPORTED",
	StatError:           "STAT_ERROR",
	CmdlineError:        "CMDLINE_ERROR",
	NotAPrivilegedUser:  "NOT_A_PRIVILEGED_USER",
	ConfigFileError:     "CONFIG_FILE_ERROR",
	LogFileError:        "LOG_FILE_ERROR",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Error wraps a Code with contextual detail. It implements the error
// interface so it can be returned directly from entry points that need an
// exit-code-bearing failure.
type Error struct {
	Code    Code
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Context)
}

// New builds an *Error for the given code with a formatted context message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Context: fmt.Sprintf(format, args...)}
}

// ExitCode returns the process exit status to use for err: 0 for nil or
// Success, the taxonomy ordinal for a *Error, or 1 for any other error.
func ExitCode(err error) int {
	if err == nil {
		return int(Success)
	}
	if le, ok := err.(*Error); ok {
		return int(le.Code)
	}
	return 1
}
