package audit

// Event types written to the audit log.
const (
	EventBiometricSetup          = "biometric_setup"
	EventBiometricSetupCancelled = "biometric_setup_cancelled"
	EventBiometricDisabled       = "biometric_disabled"
	EventBiometricLogin          = "biometric_login"
	EventBiometricLoginFailed    = "biometric_login_failed"
	EventBiometricLockout        = "biometric_lockout"
	EventPasswordLogin           = "password_login"
)
