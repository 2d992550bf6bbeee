package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

// Collections and well-known document ids.
const (
	CollectionProfile     = "profile"
	CollectionStats       = "stats"
	CollectionTasks       = "tasks"
	CollectionTrees       = "trees"
	CollectionFriends     = "friends"
	CollectionCompletions = "completions"
	CollectionEmails      = "emails"

	profileDocID = "account"
	statsDocID   = "userStats"
	friendsDocID = "friendList"

	// emailIndexAccount owns the email -> account id claims that keep
	// emails unique across accounts.
	emailIndexAccount = "_index"
)

func profileRef(accountID string) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionProfile, ID: profileDocID}
}

func statsRef(accountID string) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionStats, ID: statsDocID}
}

func friendsRef(accountID string) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionFriends, ID: friendsDocID}
}

func taskRef(accountID, taskID string) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionTasks, ID: taskID}
}

func treeRef(accountID, instanceID string) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionTrees, ID: instanceID}
}

func completionRef(accountID, taskID string, date entities.CalendarDate) ports.DocRef {
	return ports.DocRef{Account: accountID, Collection: CollectionCompletions, ID: taskID + "_" + date.String()}
}

func emailRef(email string) ports.DocRef {
	return ports.DocRef{Account: emailIndexAccount, Collection: CollectionEmails, ID: email}
}

func isNotFound(err error) bool {
	return errors.Is(err, ports.ErrDocumentNotFound)
}

func isPreconditionFailed(err error) bool {
	return errors.Is(err, ports.ErrPreconditionFailed)
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, ports.ErrAlreadyExists)
}

// unavailable classifies a store failure that is not part of the
// document contract.
func unavailable(op string, err error) error {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return entities.NewUnavailableError(op, err)
}

// watch converts store snapshots into typed values until ctx ends or the
// feed is closed. A snapshot the store could not read, or one that does not
// decode, ends the feed with an UnavailableError.
func watch[T any](ctx context.Context, op string, sub ports.Subscription, convert func(ports.Snapshot) (T, error)) *ports.Feed[T] {
	out := make(chan T, 1)
	done := make(chan struct{})

	var once sync.Once
	feed := ports.NewFeed[T](out, func() error {
		once.Do(func() { close(done) })
		return sub.Close()
	})

	go func() {
		defer close(out)
		for snap := range sub.Snapshots() {
			if snap.Err != nil {
				feed.Fail(unavailable(op, snap.Err))
				sub.Close()
				return
			}
			v, err := convert(snap)
			if err != nil {
				feed.Fail(entities.NewUnavailableError(op, err))
				sub.Close()
				return
			}
			select {
			case out <- v:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return feed
}
