// Package push delivers Web Push notifications. Browser subscriptions
// live in Redis per user; sending goes through VAPID. A Notifier with
// missing VAPID keys still stores subscriptions but never sends.
package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/chatsync/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

// Subscription is what the browser's PushManager hands over.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type Notifier struct {
	redis *redis.Client
	vapid *webpush.Options
}

// NewNotifier builds a notifier. Empty VAPID keys disable sending;
// subscriptions are still accepted so enabling keys later needs no
// re-subscription.
func NewNotifier(rdb *redis.Client, vapidPublic, vapidPrivate string) *Notifier {
	var opts *webpush.Options
	if vapidPublic != "" && vapidPrivate != "" {
		opts = &webpush.Options{
			Subscriber:      "chatsync-push",
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
			TTL:             30,
		}
	}
	return &Notifier{redis: rdb, vapid: opts}
}

// PublicKey returns the VAPID public key clients subscribe with, or "".
func (n *Notifier) PublicKey() string {
	if n.vapid == nil {
		return ""
	}
	return n.vapid.VAPIDPublicKey
}

// Subscribe stores a browser subscription for a user, keeping at most
// maxSubsPerUser most recent ones.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	key := redisKeyPrefix + userID
	pipe := n.redis.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Unsubscribe drops the subscription with the given endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return n.removeSubscription(ctx, userID, endpoint)
}

// Notify sends a notification to every subscription of the user.
// Failures are logged, not returned; a dead endpoint (410/404) is
// pruned. Callers run this in a goroutine off the hot path.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	key := redisKeyPrefix + userID
	list, err := n.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		logger.Errorf("push load subs user=%s: %v", userID, err)
		return
	}
	if len(list) == 0 || n.vapid == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == "" {
			continue
		}
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			n.removeSubscription(ctx, userID, sub.Endpoint)
		}
	}
}

func (n *Notifier) removeSubscription(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	list, err := n.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	n.redis.Del(ctx, key)
	for _, v := range kept {
		n.redis.RPush(ctx, key, v)
	}
	if len(kept) > 0 {
		n.redis.Expire(ctx, key, subscriptionTTL)
	}
	return nil
}
