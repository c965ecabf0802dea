package domain

import "time"

// Roles assigned to accounts. Admins may read global session stats.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account represents an entry in the account directory. The password is stored
// reversibly encrypted (AES) together with the IV used for that encryption,
// never as plaintext.
type Account struct {
	ID             string
	Username       string
	PasswordCipher string
	PasswordIV     string
	Role           string
	CreatedAt      time.Time
}
