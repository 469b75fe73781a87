package user

import "time"

// User is the profile record served by GET /users/{id}.
// Field names follow the backend's wire contract.
type User struct {
	ID        string    `json:"usuarioId"`
	Name      string    `json:"nombre"`
	Email     string    `json:"correo"`
	Role      string    `json:"rol"`
	Points    int       `json:"puntosLevelUp"`
	Phone     string    `json:"telefono,omitempty"`
	Address   string    `json:"direccion,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Registration is the payload for POST /users/register.
type Registration struct {
	Name     string `json:"nombre"`
	Email    string `json:"correo"`
	Password string `json:"contrasena"`
	Phone    string `json:"telefono,omitempty"`
	Address  string `json:"direccion,omitempty"`
}
