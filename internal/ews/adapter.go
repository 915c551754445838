// Package ews talks to an on-premise Exchange server over Exchange Web
// Services SOAP. It is the source-side counterpart to the graph package
// for mailboxes that have not moved to Exchange Online.
package ews

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/calmirror/calmirror/internal/model"
)

const (
	ewsTimeLayout = "2006-01-02T15:04:05Z"

	// maxCalendarViewEntries caps the FindItem CalendarView. EWS cannot
	// page a CalendarView, so a view that exceeds the cap is rejected as a
	// fetch failure rather than processed partially: a silently truncated
	// active set would make every capped-off item look like an orphan.
	maxCalendarViewEntries = 512

	// getItemBatchSize keeps GetItem requests under the Exchange
	// throttling policy's batch limits.
	getItemBatchSize = 50
)

// httpDoer is the slice of http.Client the adapter needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter fetches calendar items from an on-premise Exchange server.
type Adapter struct {
	endpoint string
	client   httpDoer
	username string
	password string
	log      *slog.Logger
}

// NewBasicAuthAdapter returns an Adapter that authenticates every request
// with HTTP basic auth. The service account needs the
// ApplicationImpersonation role for the source mailboxes.
func NewBasicAuthAdapter(endpoint, username, password string, logger *slog.Logger) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		username: username,
		password: password,
		log:      logger.With("component", "ews"),
	}
}

// NewOAuthAdapter returns an Adapter that authenticates with the OAuth2
// client-credentials flow against Azure AD. Tokens are fetched and
// refreshed by the underlying transport.
func NewOAuthAdapter(ctx context.Context, endpoint, tenantID, clientID, clientSecret string, logger *slog.Logger) *Adapter {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://outlook.office365.com/.default"},
	}
	return &Adapter{
		endpoint: endpoint,
		client:   cc.Client(ctx),
		log:      logger.With("component", "ews"),
	}
}

// newAdapterWithClient wires an arbitrary HTTP doer, used by tests.
func newAdapterWithClient(endpoint string, client httpDoer, logger *slog.Logger) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		client:   client,
		log:      logger.With("component", "ews"),
	}
}

// Fetch returns the calendar items of mailbox that fall inside
// [start, end). Items that cannot be converted are logged and skipped so
// one malformed entry does not sink the mailbox.
func (a *Adapter) Fetch(ctx context.Context, mailbox string, start, end time.Time, label string) ([]*model.CalendarItem, error) {
	ids, err := a.findItemIDs(ctx, mailbox, start, end)
	if err != nil {
		return nil, fmt.Errorf("find items for %s: %w", mailbox, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var items []*model.CalendarItem
	for offset := 0; offset < len(ids); offset += getItemBatchSize {
		batch := ids[offset:min(offset+getItemBatchSize, len(ids))]
		raw, err := a.getItems(ctx, mailbox, batch)
		if err != nil {
			return nil, fmt.Errorf("get items for %s: %w", mailbox, err)
		}
		for _, ci := range raw {
			item, err := itemFromXML(ci, mailbox)
			if err != nil {
				a.log.Warn("skipping unconvertible item",
					"mapping", label, "mailbox", mailbox, "itemId", ci.ItemID.ID, "error", err)
				continue
			}
			items = append(items, item)
		}
	}

	a.log.Debug("source fetch complete", "mapping", label, "mailbox", mailbox, "items", len(items))
	return items, nil
}

func (a *Adapter) findItemIDs(ctx context.Context, mailbox string, start, end time.Time) ([]string, error) {
	body := buildFindItemRequest(mailbox,
		start.UTC().Format(ewsTimeLayout), end.UTC().Format(ewsTimeLayout),
		maxCalendarViewEntries)

	raw, err := a.send(ctx, body)
	if err != nil {
		return nil, err
	}

	var env findItemEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode FindItem response: %w", err)
	}
	if len(env.Messages) == 0 {
		return nil, fmt.Errorf("FindItem response carried no response messages")
	}

	var ids []string
	for _, msg := range env.Messages {
		if msg.ResponseClass != "Success" {
			return nil, fmt.Errorf("FindItem failed: %s", msg.ResponseCode)
		}
		rf := msg.RootFolder
		if rf.IncludesLastItemInRange != nil && !*rf.IncludesLastItemInRange {
			return nil, fmt.Errorf("calendar view truncated at %d of %d items, narrow the sync window",
				len(rf.Items), rf.TotalItemsInView)
		}
		for _, ci := range rf.Items {
			ids = append(ids, ci.ItemID.ID)
		}
	}
	return ids, nil
}

func (a *Adapter) getItems(ctx context.Context, mailbox string, ids []string) ([]calendarItemXML, error) {
	raw, err := a.send(ctx, buildGetItemRequest(mailbox, ids))
	if err != nil {
		return nil, err
	}

	var env getItemEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode GetItem response: %w", err)
	}

	// GetItem answers with one response message per requested id. A
	// failed message drops only that item.
	var items []calendarItemXML
	for _, msg := range env.Messages {
		if msg.ResponseClass != "Success" {
			a.log.Warn("GetItem entry failed",
				"mailbox", mailbox, "responseCode", msg.ResponseCode)
			continue
		}
		items = append(items, msg.Items...)
	}
	return items, nil
}

func (a *Adapter) send(ctx context.Context, body string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	if a.username != "" {
		req.SetBasicAuth(a.username, a.password)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ews request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var fault soapFault
		if xml.Unmarshal(raw, &fault) == nil && fault.FaultString != "" {
			return nil, fmt.Errorf("ews returned %d: %s", resp.StatusCode, fault.FaultString)
		}
		return nil, fmt.Errorf("ews returned %d", resp.StatusCode)
	}
	return raw, nil
}
