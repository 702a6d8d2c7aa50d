package dynamo

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/listenupapp/guestbook/internal/domain"
	"github.com/listenupapp/guestbook/internal/keyspace"
	"github.com/listenupapp/guestbook/internal/store/kv"
)

type bookItem struct {
	ID            string `dynamodbav:"id"`
	Name          string `dynamodbav:"name"`
	NameKey       []byte `dynamodbav:"name_key"`
	GreetingCount int64  `dynamodbav:"greeting_count"`
	Version       int64  `dynamodbav:"version"`
	CreatedAt     string `dynamodbav:"created_at"`
	UpdatedAt     string `dynamodbav:"updated_at"`
}

type greetingItem struct {
	BookID    string `dynamodbav:"book_id"`
	SortKey   string `dynamodbav:"sort_key"`
	LocalID   string `dynamodbav:"local_id"`
	Content   string `dynamodbav:"content"`
	CreatedAt string `dynamodbav:"created_at"`
	Seq       int64  `dynamodbav:"seq"`
}

// sortKey orders greetings newest first when the range key ascends.
func sortKey(createdAt time.Time, seq int64) string {
	return hex.EncodeToString(kv.OrderSuffix(createdAt, seq))
}

func bookKey(id keyspace.BookID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: string(id)},
	}
}

func marshalBook(b *domain.Book) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(bookItem{
		ID:            string(b.ID),
		Name:          b.Name,
		NameKey:       keyspace.NameKey(b.Name),
		GreetingCount: b.GreetingCount,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal book %s: %w", b.ID, err)
	}
	return item, nil
}

func unmarshalBook(item map[string]types.AttributeValue) (*domain.Book, error) {
	var bi bookItem
	if err := attributevalue.UnmarshalMap(item, &bi); err != nil {
		return nil, fmt.Errorf("unmarshal book: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, bi.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("book %s created_at: %w", bi.ID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, bi.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("book %s updated_at: %w", bi.ID, err)
	}
	return &domain.Book{
		ID:            keyspace.BookID(bi.ID),
		Name:          bi.Name,
		GreetingCount: bi.GreetingCount,
		Version:       bi.Version,
		CreatedAt:     createdAt.UTC(),
		UpdatedAt:     updatedAt.UTC(),
	}, nil
}

func marshalGreeting(g *domain.Greeting) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(greetingItem{
		BookID:    string(g.ID.Book),
		SortKey:   sortKey(g.CreatedAt, g.Seq),
		LocalID:   g.ID.Local,
		Content:   g.Content,
		CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339Nano),
		Seq:       g.Seq,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal greeting %s: %w", g.ID, err)
	}
	return item, nil
}

func unmarshalGreeting(item map[string]types.AttributeValue) (*domain.Greeting, error) {
	var gi greetingItem
	if err := attributevalue.UnmarshalMap(item, &gi); err != nil {
		return nil, fmt.Errorf("unmarshal greeting: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, gi.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("greeting %s/%s created_at: %w", gi.BookID, gi.LocalID, err)
	}
	book := keyspace.BookID(gi.BookID)
	return &domain.Greeting{
		ID:        keyspace.GreetingID{Book: book, Local: gi.LocalID},
		BookID:    book,
		Content:   gi.Content,
		CreatedAt: createdAt.UTC(),
		Seq:       gi.Seq,
	}, nil
}
