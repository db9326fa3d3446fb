// Package mailbox wraps the upstream IMAP account. One Client maps to one
// connection; ingestion dials a fresh client per run and logs out after.
package mailbox

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"mailroom/internal/conf"
)

var (
	// ErrAuth is returned when the server rejects the credentials.
	ErrAuth = errors.New("mailbox authentication failed")

	// ErrTransport is returned on connection or protocol failures.
	ErrTransport = errors.New("mailbox transport error")

	// ErrNotFound is returned when a uid no longer exists on the server.
	ErrNotFound = errors.New("message not found")
)

// FlagProcessed marks a message the pipeline has fully handled. The
// search asks for messages without it, so a crash before the flag write
// means the message is picked up again on the next run.
const FlagProcessed = imap.FlaggedFlag

// Message is one raw message pulled off the server.
type Message struct {
	UID          uint32
	Raw          []byte
	InternalDate time.Time
	Flags        []string
}

// Client is a logged-in IMAP session with a selected folder.
type Client struct {
	conn   *client.Client
	folder string
	log    *logrus.Entry
}

// Dial connects, authenticates and selects the configured folder. When
// send_id is set the IMAP ID handshake runs right after login; some
// providers refuse FETCH commands from anonymous clients.
func Dial(cfg conf.MailboxConfig, log *logrus.Entry) (*Client, error) {
	conn, err := client.DialTLS(cfg.IMAPAddr(), &tls.Config{ServerName: cfg.IMAPHost})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrTransport, cfg.IMAPAddr(), err)
	}

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		_ = conn.Logout()
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	if cfg.SendID {
		idClient := id.NewClient(conn)
		serverID, err := idClient.ID(id.ID{
			id.FieldName:    "mailroom",
			id.FieldVersion: "1.0.0",
		})
		if err != nil {
			log.WithError(err).Warn("IMAP ID handshake failed, continuing without it")
		} else {
			log.WithField("server", serverID[id.FieldName]).Debug("IMAP ID handshake done")
		}
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := conn.Select(folder, false); err != nil {
		_ = conn.Logout()
		return nil, fmt.Errorf("%w: failed to select %s: %v", ErrTransport, folder, err)
	}

	return &Client{conn: conn, folder: folder, log: log}, nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	return c.conn.Logout()
}

// ListFolders returns the names of all folders on the account.
func (c *Client) ListFolders() ([]string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: folder listing failed: %v", ErrTransport, err)
	}
	return folders, nil
}

// SearchUnprocessed returns the uids of messages not yet carrying the
// processed flag, in mailbox order. A non-zero since restricts the
// search to messages dated on or after it (server-side, date precision).
func (c *Client) SearchUnprocessed(since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{FlagProcessed}
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := c.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrTransport, err)
	}
	return uids, nil
}

// FetchRaw pulls one full message body without touching the \Seen flag.
func (c *Client) FetchRaw(uid uint32) (*Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchFlags, imap.FetchUid, imap.FetchInternalDate}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.conn.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch of uid %d failed: %v", ErrTransport, uid, err)
	}
	if fetched == nil {
		return nil, fmt.Errorf("%w: uid %d", ErrNotFound, uid)
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("%w: uid %d has no body section", ErrNotFound, uid)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body of uid %d: %v", ErrTransport, uid, err)
	}

	return &Message{
		UID:          fetched.Uid,
		Raw:          raw,
		InternalDate: fetched.InternalDate,
		Flags:        fetched.Flags,
	}, nil
}

// MarkProcessed sets the processed flag. Called only after the pipeline
// has committed or deliberately skipped the message.
func (c *Client) MarkProcessed(uid uint32) error {
	return c.storeFlags(uid, imap.AddFlags, FlagProcessed)
}

// ClearProcessed removes the processed flag, forcing re-ingestion on the
// next run. Exposed for operator tooling.
func (c *Client) ClearProcessed(uid uint32) error {
	return c.storeFlags(uid, imap.RemoveFlags, FlagProcessed)
}

// MarkSeen sets \Seen on a message.
func (c *Client) MarkSeen(uid uint32) error {
	return c.storeFlags(uid, imap.AddFlags, imap.SeenFlag)
}

func (c *Client) storeFlags(uid uint32, op imap.FlagsOp, flag string) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	if err := c.conn.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
		return fmt.Errorf("%w: flag store on uid %d failed: %v", ErrTransport, uid, err)
	}
	return nil
}
