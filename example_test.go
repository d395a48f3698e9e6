package apiclient_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/ambiyansyah-risyal/apiclient"
	"github.com/ambiyansyah-risyal/apiclient/auth"
	"github.com/ambiyansyah-risyal/apiclient/internal/testbackend"
)

func Example() {
	backend := testbackend.New()
	defer backend.Close()

	tokens := auth.NewTokenStore()
	access, refresh := backend.Tokens()
	tokens.Set(auth.Tokens{AccessToken: access, RefreshToken: refresh})
	renewal := apiclient.NewRenewalCoordinator(
		auth.NewRefreshRenewer(tokens, backend.URL()+testbackend.RefreshPath, nil).Renew)

	client := apiclient.New(
		apiclient.WithBaseURL(backend.URL()),
		apiclient.WithAuthHeaders(tokens.AuthHeaders),
		apiclient.WithRenewalCoordinator(renewal),
	)
	defer client.Close()

	backend.ExpireToken()

	sheet, err := apiclient.GetJSON[struct {
		ClassID string `json:"classId"`
	}](context.Background(), client, "/attendance", apiclient.Params{"classId": 7})
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("class", sheet.ClassID)
	fmt.Println("renewals", backend.Refreshes())

	// Cached: no second request reaches the backend.
	_, _ = client.Get(context.Background(), "/attendance", apiclient.Params{"classId": 7})
	fmt.Println("attendance requests", backend.Hits("/attendance"))

	// Output:
	// class 7
	// renewals 1
	// attendance requests 2
}

func ExampleClient_Get_cooldown() {
	backend := testbackend.New()
	defer backend.Close()

	client := apiclient.New(apiclient.WithBaseURL(backend.URL()))

	_, err := client.Get(context.Background(), "/boom", nil)
	fmt.Println(err.(*apiclient.ClientError).Message)

	_, err = client.Get(context.Background(), "/boom", nil)
	fmt.Println(errors.Is(err, apiclient.ErrCooldownActive))

	// Output:
	// database unavailable
	// true
}
