// Package dynamo implements store.Store on Amazon DynamoDB.
//
// A group commit is one TransactWriteItems call: a conditional put of the
// book on the version that was read, plus the greeting put. A lost race
// fails the version condition and surfaces as store.ErrConflict.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/listenupapp/guestbook/internal/domain"
	domainerrors "github.com/listenupapp/guestbook/internal/errors"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store"
)

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Store is a store.Store backed by DynamoDB.
type Store struct {
	client API
	config Config
	logger *slog.Logger
	opts   store.Options
}

var _ store.Store = (*Store)(nil)

// New creates a Store. The tables must exist; see EnsureTables.
func New(client API, config Config, opts ...store.Option) *Store {
	config.validate()
	o := store.NewOptions(opts...)
	return &Store{
		client: client,
		config: config,
		logger: o.Logger,
		opts:   o,
	}
}

// Close is a no-op; the client owns no resources that need releasing.
func (s *Store) Close() error {
	return nil
}

// EnsureTables creates missing tables and waits until they are active.
func (s *Store) EnsureTables(ctx context.Context) error {
	tables := []*dynamodb.CreateTableInput{
		{
			TableName: aws.String(s.config.BooksTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
		{
			TableName: aws.String(s.config.GreetingsTable),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("book_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("sort_key"), KeyType: types.KeyTypeRange},
			},
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("book_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("sort_key"), AttributeType: types.ScalarAttributeTypeS},
			},
			BillingMode: types.BillingModePayPerRequest,
		},
	}

	for _, in := range tables {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName})
		var notFound *types.ResourceNotFoundException
		switch {
		case err == nil:
			continue
		case !errors.As(err, &notFound):
			return store.WrapBackendError(err, "describe table "+*in.TableName)
		}

		s.logger.Info("Creating DynamoDB table", "table", *in.TableName)
		if _, err := s.client.CreateTable(ctx, in); err != nil {
			return store.WrapBackendError(err, "create table "+*in.TableName)
		}
		waiter := dynamodb.NewTableExistsWaiter(s.client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, 2*time.Minute); err != nil {
			return store.WrapBackendError(err, "wait for table "+*in.TableName)
		}
	}
	return nil
}

// getBook reads a book with a strongly consistent read.
func (s *Store) getBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.BooksTable),
		Key:            bookKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, store.BookNotFound(id)
	}
	return unmarshalBook(out.Item)
}

// PutBook implements store.Store.
func (s *Store) PutBook(ctx context.Context, book *domain.Book) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}

	stored, err := s.getBook(ctx, book.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return s.mapError(err, book.ID, "put book")
	}
	next, err := store.PrepareBookWrite(stored, book, s.opts.Now())
	if err != nil {
		return err
	}

	item, err := marshalBook(next)
	if err != nil {
		return err
	}
	in := &dynamodb.PutItemInput{
		TableName: aws.String(s.config.BooksTable),
		Item:      item,
	}
	if stored == nil {
		in.ConditionExpression = aws.String("attribute_not_exists(id)")
	} else {
		in.ConditionExpression = aws.String(versionCondition)
		in.ExpressionAttributeNames = versionNames
		in.ExpressionAttributeValues = versionValue(stored.Version)
	}

	if _, err := s.client.PutItem(ctx, in); err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if stored == nil {
				return domainerrors.AlreadyExistsf("book %s already exists", book.ID)
			}
			return store.GroupConflict(book.ID, err)
		}
		return s.mapError(err, book.ID, "put book")
	}

	*book = *next
	return nil
}

// GetBook implements store.Store.
func (s *Store) GetBook(ctx context.Context, id keyspace.BookID) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	b, err := s.getBook(ctx, id)
	if err != nil {
		return nil, s.mapError(err, id, "get book")
	}
	return b, nil
}

// FindBookByName implements store.Store.
func (s *Store) FindBookByName(ctx context.Context, name string) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	books, err := s.scanBooks(ctx, &dynamodb.ScanInput{
		FilterExpression: aws.String("name_key = :name_key"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name_key": &types.AttributeValueMemberB{Value: keyspace.NameKey(name)},
		},
	})
	if err != nil {
		return nil, s.mapError(err, "", "find book by name")
	}
	if b := store.FirstByName(books, name); b != nil {
		return b, nil
	}
	return nil, domainerrors.NotFoundf("no book named %q", name)
}

// ListBooks implements store.Store.
// DynamoDB has no global order across partitions, so books are scanned and
// sorted here.
func (s *Store) ListBooks(ctx context.Context, limit int) ([]*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}

	books, err := s.scanBooks(ctx, &dynamodb.ScanInput{})
	if err != nil {
		return nil, s.mapError(err, "", "list books")
	}
	store.SortBooks(books)
	return store.Truncate(books, limit), nil
}

func (s *Store) scanBooks(ctx context.Context, in *dynamodb.ScanInput) ([]*domain.Book, error) {
	in.TableName = aws.String(s.config.BooksTable)
	in.ConsistentRead = aws.Bool(true)

	var books []*domain.Book
	p := dynamodb.NewScanPaginator(s.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			b, err := unmarshalBook(item)
			if err != nil {
				return nil, err
			}
			books = append(books, b)
		}
	}
	return books, nil
}

// ListGreetings implements store.Store.
func (s *Store) ListGreetings(ctx context.Context, bookID keyspace.BookID, limit int) ([]*domain.Greeting, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	if _, err := s.getBook(ctx, bookID); err != nil {
		return nil, s.mapError(err, bookID, "list greetings")
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.GreetingsTable),
		KeyConditionExpression: aws.String("book_id = :book_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":book_id": &types.AttributeValueMemberS{Value: string(bookID)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(min(limit, 1<<20)))
	}

	var greetings []*domain.Greeting
	p := dynamodb.NewQueryPaginator(s.client, in)
	for p.HasMorePages() && (limit <= 0 || len(greetings) < limit) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, s.mapError(err, bookID, "list greetings")
		}
		for _, item := range page.Items {
			g, err := unmarshalGreeting(item)
			if err != nil {
				return nil, s.mapError(err, bookID, "list greetings")
			}
			greetings = append(greetings, g)
		}
	}
	return store.Truncate(greetings, limit), nil
}

// CommitGroup implements store.Store.
func (s *Store) CommitGroup(ctx context.Context, bookID keyspace.BookID, mutate store.Mutation, greeting *domain.Greeting) (*domain.Book, error) {
	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	if err := keyspace.ValidateBookID(bookID); err != nil {
		return nil, err
	}
	if err := store.CheckGreeting(bookID, greeting); err != nil {
		return nil, err
	}

	before, err := s.getBook(ctx, bookID)
	if err != nil {
		return nil, s.mapError(err, bookID, "commit group")
	}
	after, stamped, err := store.ApplyCommit(*before, mutate, greeting, s.opts.Now())
	if err != nil {
		return nil, err
	}

	bookAttrs, err := marshalBook(after)
	if err != nil {
		return nil, err
	}
	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                 aws.String(s.config.BooksTable),
			Item:                      bookAttrs,
			ConditionExpression:       aws.String(versionCondition),
			ExpressionAttributeNames:  versionNames,
			ExpressionAttributeValues: versionValue(before.Version),
		},
	}}
	if stamped != nil {
		greetingAttrs, err := marshalGreeting(stamped)
		if err != nil {
			return nil, err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.config.GreetingsTable),
				Item:                greetingAttrs,
				ConditionExpression: aws.String("attribute_not_exists(book_id)"),
			},
		})
	}

	if err := store.CheckContext(ctx); err != nil {
		return nil, err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return nil, s.mapTransactionError(err, bookID)
	}

	if greeting != nil {
		*greeting = *stamped
	}
	return after, nil
}

// mapTransactionError maps a failed group commit. Item 0 is the book put,
// item 1 the greeting put.
func (s *Store) mapTransactionError(err error, bookID keyspace.BookID) error {
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				if i == 0 {
					return store.GroupConflict(bookID, err)
				}
				return domainerrors.Wrapf(err, domainerrors.CodeAlreadyExists, "greeting already exists in book %s", bookID)
			case "TransactionConflict":
				return store.GroupConflict(bookID, err)
			}
		}
	}
	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return store.GroupConflict(bookID, err)
	}
	return s.mapError(err, bookID, "commit group")
}

// mapError classifies errors from single-item calls.
func (s *Store) mapError(err error, bookID keyspace.BookID, op string) error {
	var throttled *types.ProvisionedThroughputExceededException
	if errors.As(err, &throttled) {
		s.logger.Warn("dynamodb throttled", "op", op, "book_id", bookID)
	}
	return store.WrapBackendError(err, op)
}

// Optimistic lock on the version that was read.
const versionCondition = "#version = :expected"

var versionNames = map[string]string{"#version": "version"}

func versionValue(v int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)},
	}
}

// String describes the store for logs.
func (s *Store) String() string {
	return fmt.Sprintf("dynamo(%s, %s)", s.config.BooksTable, s.config.GreetingsTable)
}
