package startup

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/chatsync/internal/logger"
)

// ConnectMongoWithRetry connects to MongoDB, retrying with exponential
// backoff until maxWait. Gives up with exit code 1.
func ConnectMongoWithRetry(url string, maxWait time.Duration, logPrefix string) *mongo.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := connectMongo(ctx, url)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%smongo (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%smongo connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}

func connectMongo(ctx context.Context, url string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if discErr := client.Disconnect(ctx); discErr != nil {
			return nil, fmt.Errorf("mongo ping: %w (disconnect: %v)", err, discErr)
		}
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}
