package ews

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// EWS FindItem with a CalendarView returns occurrence ids only; the full
// item bodies come from a follow-up GetItem batch. Both requests impersonate
// the source mailbox via the ExchangeImpersonation SOAP header.

const findItemTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013_SP1"/>
    <t:ExchangeImpersonation>
      <t:ConnectingSID>
        <t:SmtpAddress>%[1]s</t:SmtpAddress>
      </t:ConnectingSID>
    </t:ExchangeImpersonation>
  </soap:Header>
  <soap:Body>
    <m:FindItem Traversal="Shallow">
      <m:ItemShape>
        <t:BaseShape>IdOnly</t:BaseShape>
      </m:ItemShape>
      <m:CalendarView StartDate="%[2]s" EndDate="%[3]s" MaxEntriesReturned="%[4]d"/>
      <m:ParentFolderIds>
        <t:DistinguishedFolderId Id="calendar">
          <t:Mailbox>
            <t:EmailAddress>%[1]s</t:EmailAddress>
          </t:Mailbox>
        </t:DistinguishedFolderId>
      </m:ParentFolderIds>
    </m:FindItem>
  </soap:Body>
</soap:Envelope>`

const getItemTemplate = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"
               xmlns:t="http://schemas.microsoft.com/exchange/services/2006/types"
               xmlns:m="http://schemas.microsoft.com/exchange/services/2006/messages">
  <soap:Header>
    <t:RequestServerVersion Version="Exchange2013_SP1"/>
    <t:ExchangeImpersonation>
      <t:ConnectingSID>
        <t:SmtpAddress>%[1]s</t:SmtpAddress>
      </t:ConnectingSID>
    </t:ExchangeImpersonation>
  </soap:Header>
  <soap:Body>
    <m:GetItem>
      <m:ItemShape>
        <t:BaseShape>AllProperties</t:BaseShape>
        <t:BodyType>Text</t:BodyType>
      </m:ItemShape>
      <m:ItemIds>
%[2]s      </m:ItemIds>
    </m:GetItem>
  </soap:Body>
</soap:Envelope>`

// buildFindItemRequest renders the FindItem envelope for one mailbox and
// window. Dates use the EWS "2006-01-02T15:04:05Z" form.
func buildFindItemRequest(mailbox, startDate, endDate string, maxEntries int) string {
	return fmt.Sprintf(findItemTemplate, xmlEscape(mailbox), startDate, endDate, maxEntries)
}

// buildGetItemRequest renders the GetItem envelope for a batch of item ids.
func buildGetItemRequest(mailbox string, itemIDs []string) string {
	var ids strings.Builder
	for _, id := range itemIDs {
		fmt.Fprintf(&ids, "        <t:ItemId Id=%q/>\n", xmlEscape(id))
	}
	return fmt.Sprintf(getItemTemplate, xmlEscape(mailbox), ids.String())
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// --- response envelopes -------------------------------------------------

// soapFault carries the fault detail Exchange returns for request-level
// errors (bad impersonation, schema violations).
type soapFault struct {
	FaultCode   string `xml:"Body>Fault>faultcode"`
	FaultString string `xml:"Body>Fault>faultstring"`
}

type findItemEnvelope struct {
	XMLName  xml.Name              `xml:"Envelope"`
	Messages []findResponseMessage `xml:"Body>FindItemResponse>ResponseMessages>FindItemResponseMessage"`
}

type findResponseMessage struct {
	ResponseClass string         `xml:"ResponseClass,attr"`
	ResponseCode  string         `xml:"ResponseCode"`
	RootFolder    findRootFolder `xml:"RootFolder"`
}

// findRootFolder carries the view bookkeeping alongside the items. A
// CalendarView cannot be paged; when MaxEntriesReturned cuts the view short
// Exchange sets IncludesLastItemInRange="false". The attribute is a pointer
// so an absent attribute (older servers) is distinguishable from "false".
type findRootFolder struct {
	TotalItemsInView        int               `xml:"TotalItemsInView,attr"`
	IncludesLastItemInRange *bool             `xml:"IncludesLastItemInRange,attr"`
	Items                   []calendarItemXML `xml:"Items>CalendarItem"`
}

type getItemEnvelope struct {
	XMLName  xml.Name             `xml:"Envelope"`
	Messages []getResponseMessage `xml:"Body>GetItemResponse>ResponseMessages>GetItemResponseMessage"`
}

type getResponseMessage struct {
	ResponseClass string            `xml:"ResponseClass,attr"`
	ResponseCode  string            `xml:"ResponseCode"`
	Items         []calendarItemXML `xml:"Items>CalendarItem"`
}

type calendarItemXML struct {
	ItemID struct {
		ID string `xml:"Id,attr"`
	} `xml:"ItemId"`

	UID     string `xml:"UID"`
	Subject string `xml:"Subject"`

	Body struct {
		BodyType string `xml:"BodyType,attr"`
		Text     string `xml:",chardata"`
	} `xml:"Body"`

	Start            string `xml:"Start"`
	End              string `xml:"End"`
	IsAllDayEvent    bool   `xml:"IsAllDayEvent"`
	IsCancelled      bool   `xml:"IsCancelled"`
	IsRecurring      bool   `xml:"IsRecurring"`
	LastModifiedTime string `xml:"LastModifiedTime"`
	Location         string `xml:"Location"`

	Categories []string `xml:"Categories>String"`

	Organizer struct {
		Mailbox mailboxXML `xml:"Mailbox"`
	} `xml:"Organizer"`

	RequiredAttendees []attendeeXML `xml:"RequiredAttendees>Attendee"`
	OptionalAttendees []attendeeXML `xml:"OptionalAttendees>Attendee"`

	Recurrence recurrenceXML `xml:"Recurrence"`
}

type mailboxXML struct {
	Name         string `xml:"Name"`
	EmailAddress string `xml:"EmailAddress"`
}

type attendeeXML struct {
	Mailbox mailboxXML `xml:"Mailbox"`
}

// recurrenceXML captures which EWS recurrence pattern element is present.
// The engine only needs a flag plus a short pattern label, not the full
// recurrence math.
type recurrenceXML struct {
	Daily           *recurrenceInterval `xml:"DailyRecurrence"`
	Weekly          *weeklyRecurrence   `xml:"WeeklyRecurrence"`
	AbsoluteMonthly *recurrenceInterval `xml:"AbsoluteMonthlyRecurrence"`
	RelativeMonthly *recurrenceInterval `xml:"RelativeMonthlyRecurrence"`
	AbsoluteYearly  *struct{}           `xml:"AbsoluteYearlyRecurrence"`
	RelativeYearly  *struct{}           `xml:"RelativeYearlyRecurrence"`
}

type recurrenceInterval struct {
	Interval int `xml:"Interval"`
}

type weeklyRecurrence struct {
	Interval   int    `xml:"Interval"`
	DaysOfWeek string `xml:"DaysOfWeek"`
}

// pattern returns a short human-readable label for the recurrence, or ""
// when the item does not recur.
func (r recurrenceXML) pattern() string {
	switch {
	case r.Daily != nil:
		return "daily"
	case r.Weekly != nil:
		if r.Weekly.DaysOfWeek != "" {
			return "weekly on " + r.Weekly.DaysOfWeek
		}
		return "weekly"
	case r.AbsoluteMonthly != nil, r.RelativeMonthly != nil:
		return "monthly"
	case r.AbsoluteYearly != nil, r.RelativeYearly != nil:
		return "yearly"
	default:
		return ""
	}
}

func (r recurrenceXML) present() bool {
	return r.pattern() != ""
}
