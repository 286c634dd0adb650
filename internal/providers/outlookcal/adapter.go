// Package outlookcal mirrors call records into an Outlook calendar via
// Microsoft Graph.
package outlookcal

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"github.com/commkeep/commkeep/internal/auth"
	"github.com/commkeep/commkeep/internal/calendar"
)

// Adapter implements calendar.Sink for Microsoft Graph.
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	userID string
}

// New creates an Outlook calendar adapter.
func New(ctx context.Context, tok *auth.Token, userID string) (*Adapter, error) {
	cred := &staticTokenCredential{token: tok.AccessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &Adapter{client: client, userID: userID}, nil
}

// Insert creates one calendar event.
func (a *Adapter) Insert(ctx context.Context, ev calendar.Event) error {
	event := models.NewEvent()
	event.SetSubject(strPtr(ev.Title))

	body := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	body.SetContentType(&contentType)
	body.SetContent(strPtr(ev.Notes))
	event.SetBody(body)

	event.SetStart(dateTimeZone(ev.Start))
	event.SetEnd(dateTimeZone(ev.End))

	_, err := a.client.Users().ByUserId(a.userID).Events().Post(ctx, event, nil)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func dateTimeZone(t time.Time) *models.DateTimeTimeZone {
	dtz := models.NewDateTimeTimeZone()
	dtz.SetDateTime(strPtr(t.UTC().Format("2006-01-02T15:04:05")))
	dtz.SetTimeZone(strPtr("UTC"))
	return dtz
}

func strPtr(s string) *string { return &s }

// staticTokenCredential implements the Azure credential interface over an
// access token fetched from the token service.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}
