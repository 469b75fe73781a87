package api

type loginRequest struct {
	Email    string `json:"correo"`
	Password string `json:"contrasena"`
	Role     string `json:"rol,omitempty"`
}

// LoginResult is the credential pair issued by POST /auth/login.
type LoginResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"usuarioId"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type errorResponse struct {
	Error string `json:"error"`
}
