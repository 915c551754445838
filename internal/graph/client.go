package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"
)

// Marker extended-property identifiers. Each synced destination event
// carries both: the source item's stable identifier and the source's
// last-modified timestamp (RFC 3339, UTC) at the time of the last write.
// The GUID namespaces the properties so they never collide with other apps.
const (
	markerGUID = "1d8a8b50-9d6c-4a1f-8f5e-3c21a0c7e9b4"

	// PropSourceID holds the source item's stable identifier.
	PropSourceID = "String {" + markerGUID + "} Name CalMirrorSourceId"

	// PropSourceLastModified holds the source's last-modified timestamp.
	PropSourceLastModified = "String {" + markerGUID + "} Name CalMirrorSourceLastModified"
)

// pageSize is the calendar-view page size requested from Graph.
const pageSize = 200

// Event is the plain representation of a Graph calendar event used by the
// adapters. SourceID and SourceLastModified carry the marker values when the
// event was written by this service; both are empty on foreign events.
type Event struct {
	ID      string // Graph event id (mailbox-scoped, not stable across moves)
	ICalUID string // iCalendar UID, stable per item

	Subject  string
	BodyText string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	Categories        []string
	Organizer         string
	RequiredAttendees []string
	OptionalAttendees []string

	IsCancelled       bool
	IsRecurring       bool
	RecurrencePattern string

	LastModified time.Time

	SourceID           string
	SourceLastModified string
}

// EventsAPI is the subset of Graph calendar operations the adapters use.
// Defining it as an interface allows mock injection in tests; the real
// implementation is [Client].
type EventsAPI interface {
	// ListCalendarView returns all events in the mailbox whose times
	// intersect [start, end), markers expanded.
	ListCalendarView(ctx context.Context, mailbox string, start, end time.Time) ([]Event, error)

	// FindBySourceID returns the destination events carrying the given
	// source-identifier marker.
	FindBySourceID(ctx context.Context, mailbox, sourceID string) ([]Event, error)

	// CreateEvent writes a new event and returns its Graph id.
	CreateEvent(ctx context.Context, mailbox string, ev Event) (string, error)

	// UpdateEvent overwrites the event with the given Graph id.
	UpdateEvent(ctx context.Context, mailbox, eventID string, ev Event) error

	// DeleteEvent removes the event with the given Graph id.
	DeleteEvent(ctx context.Context, mailbox, eventID string) error
}

// Client implements [EventsAPI] against the Microsoft Graph SDK using
// client-credentials app authentication.
type Client struct {
	sdk *msgraphsdk.GraphServiceClient
	log *slog.Logger
}

// NewClient authenticates against Azure AD with a client secret and returns
// a Graph-backed client. Requires the application permissions
// Calendars.ReadWrite and MailboxSettings.Read with admin consent.
func NewClient(tenantID, clientID, clientSecret string, logger *slog.Logger) (*Client, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}

	sdk, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("creating Graph client: %w", err)
	}

	return &Client{sdk: sdk, log: logger}, nil
}

// expandMarkers is the $expand clause loading both marker properties with
// each event.
func expandMarkers() string {
	return fmt.Sprintf("singleValueExtendedProperties($filter=id eq '%s' or id eq '%s')",
		PropSourceID, PropSourceLastModified)
}

// ListCalendarView pages through /users/{mailbox}/calendarView for the given
// window. Graph returns event times in UTC unless told otherwise.
func (c *Client) ListCalendarView(ctx context.Context, mailbox string, start, end time.Time) ([]Event, error) {
	startStr := start.UTC().Format(time.RFC3339)
	endStr := end.UTC().Format(time.RFC3339)
	top := int32(pageSize)
	expand := []string{expandMarkers()}

	conf := &users.ItemCalendarViewRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemCalendarViewRequestBuilderGetQueryParameters{
			StartDateTime: &startStr,
			EndDateTime:   &endStr,
			Top:           &top,
			Expand:        expand,
		},
	}

	var events []Event

	builder := c.sdk.Users().ByUserId(mailbox).CalendarView()
	for {
		var page models.EventCollectionResponseable
		err := Retry(ctx, defaultMaxAttempts, func() error {
			var callErr error
			page, callErr = builder.Get(ctx, conf)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("listing calendar view for %s: %w", mailbox, err)
		}

		for _, raw := range page.GetValue() {
			events = append(events, eventFromSDK(raw))
		}

		next := page.GetOdataNextLink()
		if next == nil || *next == "" {
			break
		}
		builder = users.NewItemCalendarViewRequestBuilder(*next, c.sdk.GetAdapter())
		conf = nil // the next link already carries the query parameters
	}

	c.log.Debug("calendar view fetched", "mailbox", mailbox, "events", len(events))
	return events, nil
}

// FindBySourceID looks up destination events by their source-identifier
// marker via a singleValueExtendedProperties any-filter.
func (c *Client) FindBySourceID(ctx context.Context, mailbox, sourceID string) ([]Event, error) {
	filter := fmt.Sprintf("singleValueExtendedProperties/Any(ep: ep/id eq '%s' and ep/value eq '%s')",
		PropSourceID, escapeODataLiteral(sourceID))
	expand := []string{expandMarkers()}

	conf := &users.ItemEventsRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemEventsRequestBuilderGetQueryParameters{
			Filter: &filter,
			Expand: expand,
		},
	}

	var page models.EventCollectionResponseable
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		page, callErr = c.sdk.Users().ByUserId(mailbox).Events().Get(ctx, conf)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("finding event by source id in %s: %w", mailbox, err)
	}

	var events []Event
	for _, raw := range page.GetValue() {
		events = append(events, eventFromSDK(raw))
	}
	return events, nil
}

// CreateEvent posts a new event to the mailbox's default calendar.
func (c *Client) CreateEvent(ctx context.Context, mailbox string, ev Event) (string, error) {
	body := sdkEventFromEvent(ev)

	var id string
	err := Retry(ctx, defaultMaxAttempts, func() error {
		created, callErr := c.sdk.Users().ByUserId(mailbox).Events().Post(ctx, body, nil)
		if callErr != nil {
			return callErr
		}
		if created.GetId() != nil {
			id = *created.GetId()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("creating event %q in %s: %w", ev.Subject, mailbox, err)
	}
	return id, nil
}

// UpdateEvent patches an existing event, rewriting all mirrored fields and
// both marker properties.
func (c *Client) UpdateEvent(ctx context.Context, mailbox, eventID string, ev Event) error {
	body := sdkEventFromEvent(ev)

	err := Retry(ctx, defaultMaxAttempts, func() error {
		_, callErr := c.sdk.Users().ByUserId(mailbox).Events().ByEventId(eventID).Patch(ctx, body, nil)
		return callErr
	})
	if err != nil {
		return fmt.Errorf("updating event %q in %s: %w", ev.Subject, mailbox, err)
	}
	return nil
}

// DeleteEvent removes an event by its Graph id.
func (c *Client) DeleteEvent(ctx context.Context, mailbox, eventID string) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return c.sdk.Users().ByUserId(mailbox).Events().ByEventId(eventID).Delete(ctx, nil)
	})
	if err != nil {
		return fmt.Errorf("deleting event in %s: %w", mailbox, err)
	}
	return nil
}

// escapeODataLiteral doubles single quotes so arbitrary identifiers are safe
// inside an OData string literal.
func escapeODataLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
