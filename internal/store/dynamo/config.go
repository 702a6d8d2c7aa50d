package dynamo

// Config holds the table names used by the Store.
type Config struct {
	// BooksTable holds one item per book, keyed by "id".
	// Default: "guestbook_books"
	BooksTable string

	// GreetingsTable holds greetings keyed by "book_id" (hash) and
	// "sort_key" (range). Every greeting of a book shares a partition.
	// Default: "guestbook_greetings"
	GreetingsTable string
}

// DefaultConfig returns the default table names.
func DefaultConfig() Config {
	return Config{
		BooksTable:     "guestbook_books",
		GreetingsTable: "guestbook_greetings",
	}
}

// ConfigWithPrefix returns the default table names prefixed with prefix.
func ConfigWithPrefix(prefix string) Config {
	c := DefaultConfig()
	c.BooksTable = prefix + c.BooksTable
	c.GreetingsTable = prefix + c.GreetingsTable
	return c
}

// validate fills in missing table names.
func (c *Config) validate() {
	d := DefaultConfig()
	if c.BooksTable == "" {
		c.BooksTable = d.BooksTable
	}
	if c.GreetingsTable == "" {
		c.GreetingsTable = d.GreetingsTable
	}
}
