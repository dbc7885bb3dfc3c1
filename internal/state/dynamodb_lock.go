package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/flightdeck/flightdeck/internal/interfaces"
	"github.com/flightdeck/flightdeck/pkg/logging"
)

// DynamoLockerConfig holds the configuration for DynamoDB-based
// environment locking.
type DynamoLockerConfig struct {
	TableName       string
	Region          string
	Endpoint        string        // Custom endpoint for LocalStack
	TTL             time.Duration // Lock expiration (default 5 minutes)
	RefreshInterval time.Duration // TTL refresh cadence (default TTL/3)
	AcquireTimeout  time.Duration // Max time to wait for acquisition (default 10s)
}

// lockItemInfo is the JSON payload stored in the lock item's Info
// attribute for operator visibility.
type lockItemInfo struct {
	Environment string `json:"environment"`
	Hostname    string `json:"hostname"`
	PID         int    `json:"pid"`
}

// DynamoLocker implements distributed per-environment locking with
// DynamoDB conditional writes. Locks carry a TTL refreshed by a
// background goroutine, so a crashed holder's lock expires on its own.
type DynamoLocker struct {
	client  *dynamodb.Client
	config  DynamoLockerConfig
	ownerID string
	logger  *logging.Logger

	mu           sync.Mutex
	refreshStops map[string]chan struct{}
}

// NewDynamoLocker creates a DynamoDB-based environment locker and
// ensures the lock table exists.
func NewDynamoLocker(cfg DynamoLockerConfig) (*DynamoLocker, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("DynamoDB table name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	if cfg.TTL == 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = cfg.TTL / 3
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}

	awsCfg, err := loadAWSConfig(cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()

	locker := &DynamoLocker{
		client:       newDynamoDBClient(awsCfg, cfg.Endpoint),
		config:       cfg,
		ownerID:      fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().Unix()),
		logger:       logging.NewLogger("dynamodb-locker"),
		refreshStops: make(map[string]chan struct{}),
	}

	if err := locker.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize lock table: %w", err)
	}

	return locker, nil
}

// ensureTable creates the lock table if it doesn't exist
func (p *DynamoLocker) ensureTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := p.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(p.config.TableName),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe lock table: %w", err)
	}

	_, err = p.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(p.config.TableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("LockID"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("LockID"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(p.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(p.config.TableName),
	}, 5*time.Minute); err != nil {
		return fmt.Errorf("lock table did not become active: %w", err)
	}

	// TTL setup failure is tolerable; LocalStack may not support it
	_, err = p.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(p.config.TableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("TTL"),
			Enabled:       aws.Bool(true),
		},
	})
	_ = err

	return nil
}

// AcquireLock takes the distributed lock for an environment using a
// conditional write, retrying transient failures with exponential
// backoff. Returns a wrapped interfaces.ErrLockHeld when another
// process holds the lock.
//
//nolint:funlen // Lock acquisition requires retry logic, validation, and error handling
func (p *DynamoLocker) AcquireLock(ctx context.Context, environment string) (interfaces.EnvironmentLock, error) {
	if environment == "" {
		return nil, fmt.Errorf("environment is empty")
	}

	lockID := fmt.Sprintf("environment/%s", environment)

	acquireCtx, cancel := context.WithTimeout(ctx, p.config.AcquireTimeout)
	defer cancel()

	const maxRetries = 3
	const baseDelayMs = 100
	const maxDelayMs = 5000

	hostname, _ := os.Hostname()
	infoJSON, err := json.Marshal(lockItemInfo{
		Environment: environment,
		Hostname:    hostname,
		PID:         os.Getpid(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if acquireCtx.Err() != nil {
			return nil, fmt.Errorf("lock acquisition canceled: %w", acquireCtx.Err())
		}

		now := time.Now().UTC()
		ttlExpiry := now.Add(p.config.TTL).Unix()

		item := map[string]types.AttributeValue{
			"LockID":  &types.AttributeValueMemberS{Value: lockID},
			"Owner":   &types.AttributeValueMemberS{Value: p.ownerID},
			"Created": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
			"TTL":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlExpiry, 10)},
			"Info":    &types.AttributeValueMemberS{Value: string(infoJSON)},
		}

		_, err = p.client.PutItem(acquireCtx, &dynamodb.PutItemInput{
			TableName:           aws.String(p.config.TableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(LockID)"),
		})

		if err == nil {
			lock := &dynamoLock{
				locker:      p,
				id:          fmt.Sprintf("dynamodb-lock-%d", now.UnixNano()),
				lockID:      lockID,
				environment: environment,
				acquiredAt:  now,
				refreshStop: make(chan struct{}),
			}

			p.mu.Lock()
			p.refreshStops[lock.id] = lock.refreshStop
			p.mu.Unlock()

			go p.refreshLock(lock)

			p.logger.Debugf("Acquired lock %s for environment %s", lock.id, environment)
			return lock, nil
		}

		// Held by another process; no point retrying
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return nil, fmt.Errorf("environment %q: %w", environment, interfaces.ErrLockHeld)
		}

		lastErr = err

		if attempt < maxRetries {
			delayMs := int(math.Min(float64(baseDelayMs)*math.Pow(2, float64(attempt)), float64(maxDelayMs)))
			jitter := time.Duration(delayMs/2) * time.Millisecond
			delay := time.Duration(delayMs)*time.Millisecond + jitter

			select {
			case <-time.After(delay):
			case <-acquireCtx.Done():
				return nil, fmt.Errorf("lock acquisition canceled during retry: %w", acquireCtx.Err())
			}
		}
	}

	return nil, fmt.Errorf("failed to acquire lock after %d retries: %w", maxRetries, lastErr)
}

// refreshLock periodically extends the lock TTL while the lock is held.
// Stops silently if the lock was lost; the holder finds out on Release.
func (p *DynamoLocker) refreshLock(lock *dynamoLock) {
	ticker := time.NewTicker(p.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.refreshStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			ttlExpiry := time.Now().UTC().Add(p.config.TTL).Unix()

			_, err := p.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
				TableName: aws.String(p.config.TableName),
				Key: map[string]types.AttributeValue{
					"LockID": &types.AttributeValueMemberS{Value: lock.lockID},
				},
				UpdateExpression: aws.String("SET #ttl = :ttl"),
				ExpressionAttributeNames: map[string]string{
					"#ttl":   "TTL",
					"#owner": "Owner",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":ttl":   &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlExpiry, 10)},
					":owner": &types.AttributeValueMemberS{Value: p.ownerID},
				},
				ConditionExpression: aws.String("#owner = :owner"),
			})

			cancel()

			if err != nil {
				p.logger.Warnf("Stopped refreshing lock %s: %v", lock.id, err)
				return
			}
		}
	}
}

// ForceRelease removes an environment's lock item regardless of owner
func (p *DynamoLocker) ForceRelease(ctx context.Context, environment string) error {
	if environment == "" {
		return fmt.Errorf("environment is empty")
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := p.client.DeleteItem(opCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.config.TableName),
		Key: map[string]types.AttributeValue{
			"LockID": &types.AttributeValueMemberS{Value: fmt.Sprintf("environment/%s", environment)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to force-release lock for %s: %w", environment, err)
	}

	p.logger.Warnf("Force-released lock for environment %s", environment)
	return nil
}

// Shutdown stops all TTL refresh goroutines. Held locks expire via TTL.
func (p *DynamoLocker) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, stop := range p.refreshStops {
		close(stop)
		delete(p.refreshStops, id)
	}
}

// dynamoLock is a held DynamoDB lock
type dynamoLock struct {
	locker      *DynamoLocker
	id          string
	lockID      string
	environment string
	acquiredAt  time.Time
	refreshStop chan struct{}
	released    bool
	mu          sync.Mutex
}

func (dl *dynamoLock) ID() string            { return dl.id }
func (dl *dynamoLock) Environment() string   { return dl.environment }
func (dl *dynamoLock) AcquiredAt() time.Time { return dl.acquiredAt }

// Release deletes the lock item if still owned by this process and
// stops the TTL refresh goroutine.
func (dl *dynamoLock) Release() error {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.released {
		return fmt.Errorf("lock %s already released", dl.id)
	}
	dl.released = true

	close(dl.refreshStop)
	dl.locker.mu.Lock()
	delete(dl.locker.refreshStops, dl.id)
	dl.locker.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := dl.locker.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(dl.locker.config.TableName),
		Key: map[string]types.AttributeValue{
			"LockID": &types.AttributeValueMemberS{Value: dl.lockID},
		},
		ExpressionAttributeNames: map[string]string{
			"#owner": "Owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: dl.locker.ownerID},
		},
		ConditionExpression: aws.String("#owner = :owner"),
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return fmt.Errorf("lock for environment %s is not owned by this process", dl.environment)
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}

	dl.locker.logger.Debugf("Released lock %s for environment %s", dl.id, dl.environment)
	return nil
}
