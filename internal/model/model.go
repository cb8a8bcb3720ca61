// Package model defines domain entities shared by the sync layer and its transports.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Identity is the authenticated principal for the current session.
type Identity struct {
	UserID      uuid.UUID
	Email       string
	AccessToken string
	ExpiresAt   time.Time // access token expiry
	// Metadata carries signup-time profile fields (username, display_name)
	// so a profile can be provisioned lazily on first session observation.
	Metadata map[string]string
}

// Profile is the user-facing record associated 1:1 with an Identity.
type Profile struct {
	ID          uuid.UUID // equals the identity's user id
	Username    string    // unique
	DisplayName string
	AvatarURL   string
	Bio         string
	CreatedAt   time.Time
}

// ProfilePatch is a partial profile update; nil fields are left unchanged.
type ProfilePatch struct {
	DisplayName *string
	AvatarURL   *string
	Bio         *string
}

// Post is a feed entry. LikesCount is a denormalized counter maintained by
// the store; the client adjusts its local copy optimistically.
type Post struct {
	ID         int64
	AuthorID   uuid.UUID
	Caption    string
	ImageURL   string
	LikesCount int
	CreatedAt  time.Time
	Author     *Profile // joined client-side; nil if resolution failed
}

// Like marks that a user liked a post. Unique per (UserID, PostID);
// existence is the sole source of "liked" membership.
type Like struct {
	ID     int64
	UserID uuid.UUID
	PostID int64
}

// Comment belongs to a post and optionally to a parent comment,
// forming a forest per post.
type Comment struct {
	ID        int64
	AuthorID  uuid.UUID
	PostID    int64
	ParentID  *int64 // nil for root comments
	Content   string
	CreatedAt time.Time
	Author    *Profile // joined client-side; nil if resolution failed
}

// Photo is an ephemeral external image candidate; not persisted until
// attached to a post or profile mutation.
type Photo struct {
	ID         string
	RegularURL string
	ThumbURL   string
	Credit     string
}
