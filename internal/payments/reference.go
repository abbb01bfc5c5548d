package payments

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// ReferenceClaims is the signed payload of a payment reference. The
// reference doubles as the key customers quote in support conversations, so
// it carries enough to locate the payment and prove which tenant it belongs
// to.
type ReferenceClaims struct {
	SellerID string `json:"seller_id"`
	OrderID  string `json:"order_id"`
	jwt.RegisteredClaims
}

// ReferenceSigner mints and verifies tamper-proof payment references as
// HS256 JWTs.
type ReferenceSigner struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewReferenceSigner(secret string) *ReferenceSigner {
	return &ReferenceSigner{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:    time.Now,
	}
}

// Sign issues a reference for one payment attempt. The jti makes every
// reference unique even for repeated attempts against the same order.
func (s *ReferenceSigner) Sign(sellerID, orderID uuid.UUID) (string, error) {
	claims := ReferenceClaims{
		SellerID: sellerID.String(),
		OrderID:  orderID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign payment reference: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and returns the embedded claims. Callers must
// still compare the seller claim against the authenticated tenant.
func (s *ReferenceSigner) Verify(reference string) (*ReferenceClaims, error) {
	claims := &ReferenceClaims{}
	token, err := s.parser.ParseWithClaims(reference, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid payment reference: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid payment reference")
	}
	return claims, nil
}
