package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lireddit/lireddit/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Gorm exposes the handle for code that runs its own transactions
func (r *Repository) Gorm() *gorm.DB {
	return r.db
}

// UserRepository provides user-related database operations
type UserRepository struct {
	*Repository
}

// NewUserRepository creates a new user repository
func NewUserRepository(repo *Repository) *UserRepository {
	return &UserRepository{Repository: repo}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByIDs retrieves all users whose ID is in ids with one query
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByUsernameOrEmail retrieves a user whose username or email equals login
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, login string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, login).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// UpdatePassword replaces a user's password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("password", hash).Error
}

// PostRepository provides post-related database operations
type PostRepository struct {
	*Repository
}

// NewPostRepository creates a new post repository
func NewPostRepository(repo *Repository) *PostRepository {
	return &PostRepository{Repository: repo}
}

// GetByID retrieves a post by ID
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// Create creates a new post
func (r *PostRepository) Create(ctx context.Context, post *models.Post) error {
	return r.db.WithContext(ctx).Create(post).Error
}

// UpdateOwned sets title and text of post id only if creatorID owns it.
// It returns the number of rows changed; zero means missing or not owned.
func (r *PostRepository) UpdateOwned(ctx context.Context, id, creatorID int64, title, text string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND creator_id = ?", id, creatorID).
		Updates(map[string]interface{}{
			"title":      title,
			"text":       text,
			"updated_at": r.db.NowFunc(),
		})
	return res.RowsAffected, res.Error
}

// DeleteOwned deletes post id and its votes if creatorID owns it, in one
// transaction. It returns the number of posts deleted.
func (r *PostRepository) DeleteOwned(ctx context.Context, id, creatorID int64) (int64, error) {
	var deleted int64
	err := InTx(ctx, r.db, func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND creator_id = ?", id, creatorID).Delete(&models.Post{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if deleted == 0 {
			return nil
		}
		return tx.Where("post_id = ?", id).Delete(&models.Vote{}).Error
	})
	return deleted, err
}

// ListNewest returns up to n posts ordered newest first. With a non-nil
// before, only posts strictly older than (before, beforeID) are returned;
// a zero beforeID compares on the timestamp alone.
func (r *PostRepository) ListNewest(ctx context.Context, before *time.Time, beforeID int64, n int) ([]models.Post, error) {
	query := r.db.WithContext(ctx).Model(&models.Post{})

	if before != nil {
		if beforeID > 0 {
			query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", *before, *before, beforeID)
		} else {
			query = query.Where("created_at < ?", *before)
		}
	}

	var posts []models.Post
	if err := query.Order("created_at DESC").Order("id DESC").Limit(n).Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// VoteRepository provides read access to the vote ledger
type VoteRepository struct {
	*Repository
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(repo *Repository) *VoteRepository {
	return &VoteRepository{Repository: repo}
}

// Get retrieves the vote of userID on postID
func (r *VoteRepository) Get(ctx context.Context, userID, postID int64) (*models.Vote, error) {
	var vote models.Vote
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		First(&vote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vote, nil
}

// GetByUsersAndPosts retrieves every vote cast by one of userIDs on one of
// postIDs with a single query. Callers filter the cross product they need.
func (r *VoteRepository) GetByUsersAndPosts(ctx context.Context, userIDs, postIDs []int64) ([]models.Vote, error) {
	var votes []models.Vote
	if len(userIDs) == 0 || len(postIDs) == 0 {
		return votes, nil
	}
	if err := r.db.WithContext(ctx).
		Where("user_id IN ? AND post_id IN ?", userIDs, postIDs).
		Find(&votes).Error; err != nil {
		return nil, err
	}
	return votes, nil
}

// SumForPost returns the sum of vote values on postID
func (r *VoteRepository) SumForPost(ctx context.Context, postID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&models.Vote{}).
		Where("post_id = ?", postID).
		Select("COALESCE(SUM(value), 0)").
		Scan(&sum).Error
	return sum, err
}

// CountForPost returns the number of vote rows on postID
func (r *VoteRepository) CountForPost(ctx context.Context, postID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Vote{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}
