// Package firestore implements the durable device token registry backend.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// FirestoreStore implements TokenStore using Google Cloud Firestore.
// Layout: users/{userId}/device_tokens/{gateway}_{hash(deviceId)}.
type FirestoreStore struct {
	client *firestore.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

var _ dispatch.TokenStore = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client, ttl time.Duration, logger *slog.Logger) *FirestoreStore {
	if ttl <= 0 {
		ttl = push.TokenTTL
	}
	return &FirestoreStore{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "FirestoreTokenStore"),
	}
}

// deviceRecord is the internal DB representation. ExpiresAt can back a
// Firestore TTL policy; reads filter on it regardless.
type deviceRecord struct {
	push.DeviceToken
	ExpiresAt time.Time `firestore:"expires_at"`
}

func (s *FirestoreStore) Put(ctx context.Context, userID string, token push.DeviceToken) error {
	if err := token.Validate(); err != nil {
		return err
	}
	expires := s.now().Add(s.ttl)
	ref := s.devicesCollection(userID).Doc(docID(token.Gateway, token.DeviceID))
	if _, err := ref.Set(ctx, deviceRecord{DeviceToken: token, ExpiresAt: expires}); err != nil {
		return fmt.Errorf("firestore set failed: %w", err)
	}
	return s.renew(ctx, userID, ref.ID, expires)
}

// renew pushes the expiry of the user's other registrations forward.
func (s *FirestoreStore) renew(ctx context.Context, userID, skipID string, expires time.Time) error {
	refs, err := s.devicesCollection(userID).DocumentRefs(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore list failed: %w", err)
	}
	if len(refs) <= 1 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for _, ref := range refs {
		if ref.ID == skipID {
			continue
		}
		job, err := bw.Update(ref, []firestore.Update{{Path: "expires_at", Value: expires}})
		if err != nil {
			bw.End()
			return fmt.Errorf("firestore renew failed: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("firestore renew failed: %w", err)
		}
	}
	return nil
}

func (s *FirestoreStore) All(ctx context.Context, userID string) ([]push.DeviceToken, error) {
	iter := s.devicesCollection(userID).Where("expires_at", ">", s.now()).Documents(ctx)
	defer iter.Stop()

	var out []push.DeviceToken
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping corrupt token record", "user", userID, "doc", doc.Ref.ID, "err", err)
			continue
		}
		if err := record.Validate(); err != nil {
			s.logger.Warn("Skipping invalid token record", "user", userID, "doc", doc.Ref.ID, "err", err)
			continue
		}
		out = append(out, record.DeviceToken)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gateway != out[j].Gateway {
			return out[i].Gateway < out[j].Gateway
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func (s *FirestoreStore) DeleteDevice(ctx context.Context, userID, deviceID string) (int, error) {
	q := s.devicesCollection(userID).Where("device_id", "==", deviceID)
	return s.deleteMatching(ctx, q, func(deviceRecord) bool { return true })
}

func (s *FirestoreStore) DeleteTokens(ctx context.Context, userID string, gateway push.Gateway, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	dead := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		dead[t] = struct{}{}
	}
	q := s.devicesCollection(userID).Where("gateway", "==", string(gateway))
	return s.deleteMatching(ctx, q, func(r deviceRecord) bool {
		_, ok := dead[r.Token]
		return ok
	})
}

func (s *FirestoreStore) deleteMatching(ctx context.Context, q firestore.Query, match func(deviceRecord) bool) (int, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	removed := 0
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var record deviceRecord
		if err := doc.DataTo(&record); err != nil || !match(record) {
			continue
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return removed, fmt.Errorf("firestore delete failed: %w", err)
		}
		removed++
	}
	return removed, nil
}

// --- Helpers ---

func (s *FirestoreStore) devicesCollection(userID string) *firestore.CollectionRef {
	return s.client.Collection("users").Doc(userID).Collection("device_tokens")
}

// docID keys one device on one gateway. Device ids are hashed since they may
// contain characters Firestore forbids in document ids.
func docID(g push.Gateway, deviceID string) string {
	return fmt.Sprintf("%s_%s", g, hashToken(deviceID))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
