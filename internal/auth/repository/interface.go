package repository

import authdomain "mailsync-backend/internal/auth/domain"

// UserRepository defines persistence for users and their session tokens.
type UserRepository interface {
	Create(user *authdomain.User) error
	FindByEmail(email string) (*authdomain.User, error)
	FindByID(id string) (*authdomain.User, error)
	Update(user *authdomain.User) error
	// FindWithRefreshTokens returns users holding a long-lived mailbox
	// credential, the population the background poller iterates.
	FindWithRefreshTokens() ([]*authdomain.User, error)

	SaveRefreshToken(token *authdomain.RefreshToken) error
	FindRefreshToken(token string) (*authdomain.RefreshToken, error)
	DeleteRefreshToken(token string) error
}
