// Package stubapi is an in-memory implementation of the remote
// commerce service the storefront client consumes. Tests run it under
// httptest; cmd/stubapi serves it standalone for local development.
// Contract:
//
//	POST   /auth/login            {correo, contrasena, rol?} -> {accessToken, refreshToken, usuarioId}
//	POST   /auth/refresh          {refreshToken}             -> {accessToken}
//	POST   /users/register        registration payload
//	GET    /users/:id             profile incl. puntosLevelUp
//	GET    /cart/:userId          {items: [...]}
//	POST   /cart/:userId/add      ?productId=&quantity=
//	DELETE /cart/:userId/remove   ?productId=
//	DELETE /cart/:userId          clear
//
// Everything except login/register/refresh requires Authorization:
// Bearer <accessToken>.
package stubapi

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storefront/internal/domain/cart"
	"storefront/internal/domain/user"
)

const (
	ctxUserIDKey = "user_id"
	ctxRoleKey   = "role"
)

// Product is a catalog entry with the stock the service enforces.
type Product struct {
	ID    int64
	Name  string
	Price float64
	Stock int
}

type account struct {
	profile      user.User
	passwordHash string
}

// Server holds the in-memory state behind the stub endpoints.
type Server struct {
	jwt *JWTManager

	mu           sync.Mutex
	usersByID    map[string]*account
	usersByEmail map[string]*account
	validRefresh map[string]string // refresh token hash -> user id
	products     map[int64]Product
	carts        map[string]map[int64]int // user id -> product id -> qty

	refreshCalls int
	refreshDelay time.Duration
	cartCalls    int
}

func NewServer(cfg JWTConfig) *Server {
	return &Server{
		jwt:          NewJWTManager(cfg),
		usersByID:    make(map[string]*account),
		usersByEmail: make(map[string]*account),
		validRefresh: make(map[string]string),
		products:     make(map[int64]Product),
		carts:        make(map[string]map[int64]int),
	}
}

// Router builds the gin engine serving the contract.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	auth := r.Group("/auth")
	{
		auth.POST("/login", s.login)
		auth.POST("/refresh", s.refresh)
	}

	r.POST("/users/register", s.register)

	protected := r.Group("/")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/users/:id", s.getUser)

		crt := protected.Group("/cart")
		crt.Use(func(c *gin.Context) {
			s.mu.Lock()
			s.cartCalls++
			s.mu.Unlock()
			c.Next()
		})
		crt.GET("/:userId", s.getCart)
		crt.POST("/:userId/add", s.addToCart)
		crt.DELETE("/:userId/remove", s.removeFromCart)
		crt.DELETE("/:userId", s.clearCart)
	}

	return r
}

// --- seeding and test hooks ---

// SeedProduct installs or replaces a catalog entry.
func (s *Server) SeedProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// SeedUser creates an account directly and returns its id.
func (s *Server) SeedUser(name, email, password string, points int) string {
	hash, _ := HashPassword(password)
	acc := &account{
		profile: user.User{
			ID:        uuid.NewString(),
			Name:      name,
			Email:     strings.ToLower(email),
			Role:      "cliente",
			Points:    points,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hash,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByID[acc.profile.ID] = acc
	s.usersByEmail[acc.profile.Email] = acc
	return acc.profile.ID
}

// SetPoints rewrites an account's point total.
func (s *Server) SetPoints(userID string, points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.usersByID[userID]; ok {
		acc.profile.Points = points
	}
}

// SetAccessTTL controls the lifetime of subsequently issued access
// tokens; negative values issue already-expired tokens.
func (s *Server) SetAccessTTL(d time.Duration) { s.jwt.SetAccessTTL(d) }

// RevokeRefresh invalidates a refresh token, forcing the next renewal
// attempt to fail.
func (s *Server) RevokeRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.validRefresh, HashToken(token))
}

// SetRefreshDelay makes /auth/refresh linger, widening the window in
// which concurrent expired requests pile onto one renewal.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// RefreshCalls reports how many times /auth/refresh was hit.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// CartCalls reports how many cart endpoints were hit, any verb.
func (s *Server) CartCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartCalls
}

// --- auth handlers ---

type loginReq struct {
	Email    string `json:"correo" binding:"required"`
	Password string `json:"contrasena" binding:"required"`
	Role     string `json:"rol"`
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	s.mu.Lock()
	acc, ok := s.usersByEmail[email]
	s.mu.Unlock()
	if !ok || !CheckPassword(acc.passwordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if req.Role != "" && req.Role != acc.profile.Role {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	access, err := s.jwt.SignAccess(acc.profile.ID, acc.profile.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}
	refresh, err := s.jwt.SignRefresh(acc.profile.ID, acc.profile.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}

	s.mu.Lock()
	s.validRefresh[HashToken(refresh)] = acc.profile.ID
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"accessToken":  access,
		"refreshToken": refresh,
		"usuarioId":    acc.profile.ID,
	})
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (s *Server) refresh(c *gin.Context) {
	s.mu.Lock()
	s.refreshCalls++
	delay := s.refreshDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, err := s.jwt.ParseRefresh(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	s.mu.Lock()
	_, valid := s.validRefresh[HashToken(req.RefreshToken)]
	s.mu.Unlock()
	if !valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token expired or revoked"})
		return
	}

	access, err := s.jwt.SignAccess(claims.UserID, claims.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token signing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access})
}

func (s *Server) register(c *gin.Context) {
	var req user.Registration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nombre, correo and contrasena are required"})
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))

	hash, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "password hash failed"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByEmail[email]; exists {
		c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
		return
	}
	acc := &account{
		profile: user.User{
			ID:        uuid.NewString(),
			Name:      req.Name,
			Email:     email,
			Role:      "cliente",
			Phone:     req.Phone,
			Address:   req.Address,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hash,
	}
	s.usersByID[acc.profile.ID] = acc
	s.usersByEmail[email] = acc

	c.JSON(http.StatusCreated, gin.H{"ok": true, "usuarioId": acc.profile.ID})
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := s.jwt.ParseAccess(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
			return
		}
		c.Set(ctxUserIDKey, claims.UserID)
		c.Set(ctxRoleKey, claims.Role)
		c.Next()
	}
}

// requireSelf allows an identity to touch only its own resources,
// admins excepted.
func requireSelf(c *gin.Context, id string) bool {
	uid := c.GetString(ctxUserIDKey)
	role := c.GetString(ctxRoleKey)
	if uid != id && role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// --- user handlers ---

func (s *Server) getUser(c *gin.Context) {
	id := c.Param("id")
	if !requireSelf(c, id) {
		return
	}
	// Serialize a copy: SetPoints mutates the shared account under the
	// same lock.
	s.mu.Lock()
	acc, ok := s.usersByID[id]
	var profile user.User
	if ok {
		profile = acc.profile
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

// --- cart handlers ---

func (s *Server) getCart(c *gin.Context) {
	uid := c.Param("userId")
	if !requireSelf(c, uid) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]cart.Line, 0)
	ids := make([]int64, 0, len(s.carts[uid]))
	for pid := range s.carts[uid] {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, pid := range ids {
		qty := s.carts[uid][pid]
		p := s.products[pid]
		items = append(items, cart.Line{
			ProductID:   pid,
			ProductName: p.Name,
			Quantity:    qty,
			UnitPrice:   p.Price,
			Subtotal:    round2(p.Price * float64(qty)),
		})
	}
	c.JSON(http.StatusOK, cart.Cart{Items: items})
}

func (s *Server) addToCart(c *gin.Context) {
	uid := c.Param("userId")
	if !requireSelf(c, uid) {
		return
	}
	pid, err := strconv.ParseInt(c.Query("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid productId"})
		return
	}
	qty, err := strconv.Atoi(c.Query("quantity"))
	if err != nil || qty < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[pid]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	current := s.carts[uid][pid]
	if current+qty > p.Stock {
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient stock"})
		return
	}
	if s.carts[uid] == nil {
		s.carts[uid] = make(map[int64]int)
	}
	s.carts[uid][pid] = current + qty

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) removeFromCart(c *gin.Context) {
	uid := c.Param("userId")
	if !requireSelf(c, uid) {
		return
	}
	pid, err := strconv.ParseInt(c.Query("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid productId"})
		return
	}

	s.mu.Lock()
	delete(s.carts[uid], pid)
	s.mu.Unlock()

	// removal is idempotent; deleting an absent line is fine
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) clearCart(c *gin.Context) {
	uid := c.Param("userId")
	if !requireSelf(c, uid) {
		return
	}

	s.mu.Lock()
	delete(s.carts, uid)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
