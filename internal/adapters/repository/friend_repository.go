package repository

import (
	"context"

	"github.com/sapling/core/internal/ports"
)

const fieldFriend = "friend"

type friendListDocument struct {
	Friend []string `json:"friend"`
}

func decodeFriends(doc *ports.Document) ([]string, error) {
	var d friendListDocument
	if err := doc.Decode(&d); err != nil {
		return nil, err
	}
	if d.Friend == nil {
		return []string{}, nil
	}
	return d.Friend, nil
}

// FriendRepositoryImpl implements the FriendRepository interface
type FriendRepositoryImpl struct {
	store ports.DocumentStore
}

// NewFriendRepository creates a new friend list repository
func NewFriendRepository(store ports.DocumentStore) ports.FriendRepository {
	return &FriendRepositoryImpl{store: store}
}

func (r *FriendRepositoryImpl) Init(ctx context.Context, accountID string) error {
	fields := map[string]interface{}{fieldFriend: []string{}}
	if _, err := r.store.Create(ctx, friendsRef(accountID), fields); err != nil && !isAlreadyExists(err) {
		return unavailable("init friend list", err)
	}
	return nil
}

func (r *FriendRepositoryImpl) Add(ctx context.Context, accountID, email string) ([]string, error) {
	return r.update(ctx, accountID, ports.ArrayUnion(fieldFriend, email))
}

func (r *FriendRepositoryImpl) Remove(ctx context.Context, accountID, email string) ([]string, error) {
	return r.update(ctx, accountID, ports.ArrayRemove(fieldFriend, email))
}

func (r *FriendRepositoryImpl) update(ctx context.Context, accountID string, op ports.FieldOp) ([]string, error) {
	doc, err := r.store.Update(ctx, friendsRef(accountID), ports.Update{
		Ops:    []ports.FieldOp{op},
		Upsert: true,
	})
	if err != nil {
		return nil, unavailable("update friend list", err)
	}

	friends, err := decodeFriends(doc)
	if err != nil {
		return nil, unavailable("decode friend list", err)
	}

	return friends, nil
}

func (r *FriendRepositoryImpl) List(ctx context.Context, accountID string) ([]string, error) {
	doc, err := r.store.Get(ctx, friendsRef(accountID))
	if err != nil {
		if isNotFound(err) {
			return []string{}, nil
		}
		return nil, unavailable("get friend list", err)
	}

	friends, err := decodeFriends(doc)
	if err != nil {
		return nil, unavailable("decode friend list", err)
	}

	return friends, nil
}
