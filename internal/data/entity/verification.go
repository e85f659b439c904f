package entity

// VerificationPurpose namespaces one-time codes in the verification cache.
type VerificationPurpose string

const (
	PurposeEmailVerify   VerificationPurpose = "email-verify"
	PurposePasswordReset VerificationPurpose = "password-reset"
)

// Key renders the cache key for email under this purpose, e.g. "email-verify:a@b.com".
func (p VerificationPurpose) Key(email string) string {
	return string(p) + ":" + email
}
