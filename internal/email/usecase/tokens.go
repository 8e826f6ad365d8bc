package usecase

import (
	authdomain "mailsync-backend/internal/auth/domain"
	authrepo "mailsync-backend/internal/auth/repository"
	"mailsync-backend/pkg/gmail"

	"golang.org/x/oauth2"
)

// tokenUpdateCallback persists refreshed OAuth tokens back onto the
// user record. Google omits the refresh token on plain refreshes, so a
// blank one keeps the stored value.
func tokenUpdateCallback(userRepo authrepo.UserRepository, user *authdomain.User) gmail.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		user.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			user.RefreshToken = token.RefreshToken
		}
		user.TokenExpiry = token.Expiry
		return userRepo.Update(user)
	}
}
