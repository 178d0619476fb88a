package bridge

// Kind classifies the errors a bridge records in its state.
type Kind int

const (
	KindLibraryUnavailable Kind = iota + 1
	KindNotInitialized
	KindAuthenticationFailed
	KindLoginFailed
	KindLogoutFailed
	KindTokenAcquisitionFailed
)

var kindMessages = map[Kind]string{
	KindLibraryUnavailable:     "identity client is not available",
	KindNotInitialized:         "identity client is not initialized",
	KindAuthenticationFailed:   "Authentication failed",
	KindLoginFailed:            "Login failed",
	KindLogoutFailed:           "Logout failed",
	KindTokenAcquisitionFailed: "Token acquisition failed",
}

var kindNames = map[Kind]string{
	KindLibraryUnavailable:     "library_unavailable",
	KindNotInitialized:         "not_initialized",
	KindAuthenticationFailed:   "authentication_failed",
	KindLoginFailed:            "login_failed",
	KindLogoutFailed:           "logout_failed",
	KindTokenAcquisitionFailed: "token_acquisition_failed",
}

func (k Kind) String() string {
	return kindNames[k]
}

// DefaultMessage is recorded when the underlying error has no message.
func (k Kind) DefaultMessage() string {
	return kindMessages[k]
}

// Error is a recorded bridge error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindLibraryUnavailable || e.Kind == KindNotInitialized {
		return e.Kind.DefaultMessage()
	}
	if e.Err != nil && e.Err.Error() != "" {
		return e.Err.Error()
	}
	return e.Kind.DefaultMessage()
}

func (e *Error) Unwrap() error {
	return e.Err
}
