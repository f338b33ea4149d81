package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/lireddit/lireddit/internal/models"
	"github.com/lireddit/lireddit/pkg/config"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	database, err := New(&config.DatabaseConfig{URL: "sqlite://:memory:"}, "ERROR")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return database
}

func TestInTx_RollsBackOnError(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := InTx(ctx, database.DB, func(tx *gorm.DB) error {
		if err := tx.Create(&models.User{Username: "alice", Email: "alice@example.com", Password: "x"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	var count int64
	database.Model(&models.User{}).Count(&count)
	if count != 0 {
		t.Errorf("expected rollback to leave 0 users, got %d", count)
	}
}

func TestListNewest(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	repo := NewPostRepository(NewRepository(database.DB))

	user := &models.User{Username: "bob", Email: "bob@example.com", Password: "x"}
	if err := database.Create(user).Error; err != nil {
		t.Fatal(err)
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// two posts share a timestamp to exercise the id tie-break
	times := []time.Time{base, base.Add(time.Second), base.Add(time.Second), base.Add(2 * time.Second)}
	var ids []int64
	for i, ts := range times {
		p := &models.Post{Title: string(rune('a' + i)), Text: "t", CreatorID: user.ID, CreatedAt: ts}
		if err := repo.Create(ctx, p); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}

	all, err := repo.ListNewest(ctx, nil, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{ids[3], ids[2], ids[1], ids[0]}
	if len(all) != len(want) {
		t.Fatalf("ListNewest() returned %d posts, want %d", len(all), len(want))
	}
	for i := range want {
		if all[i].ID != want[i] {
			t.Errorf("position %d: got post %d, want %d", i, all[i].ID, want[i])
		}
	}

	tied := times[2]
	rest, err := repo.ListNewest(ctx, &tied, ids[2], 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 || rest[0].ID != ids[1] || rest[1].ID != ids[0] {
		t.Errorf("ListNewest after tied cursor = %+v", rest)
	}
}

func TestDeleteOwned(t *testing.T) {
	database := openMemory(t)
	ctx := context.Background()
	repo := NewRepository(database.DB)
	posts := NewPostRepository(repo)
	votes := NewVoteRepository(repo)

	owner := &models.User{Username: "owner", Email: "owner@example.com", Password: "x"}
	other := &models.User{Username: "other", Email: "other@example.com", Password: "x"}
	database.Create(owner)
	database.Create(other)

	post := &models.Post{Title: "hello", Text: "world", CreatorID: owner.ID}
	if err := posts.Create(ctx, post); err != nil {
		t.Fatal(err)
	}
	database.Create(&models.Vote{UserID: other.ID, PostID: post.ID, Value: 1})

	n, err := posts.DeleteOwned(ctx, post.ID, other.ID)
	if err != nil || n != 0 {
		t.Fatalf("non-owner delete = (%d, %v), want (0, nil)", n, err)
	}

	n, err = posts.DeleteOwned(ctx, post.ID, owner.ID)
	if err != nil || n != 1 {
		t.Fatalf("owner delete = (%d, %v), want (1, nil)", n, err)
	}

	left, err := votes.CountForPost(ctx, post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Errorf("expected votes of deleted post to be removed, %d left", left)
	}
}
