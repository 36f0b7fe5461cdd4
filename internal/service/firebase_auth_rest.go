package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FirebaseAuthRestClient talks to the Google Identity Toolkit endpoints that
// the admin SDK does not cover: password sign-in and refresh-token exchange.
type FirebaseAuthRestClient struct {
	apiKey     string
	projectId  string
	httpClient *http.Client
}

func NewFirebaseAuthRestClient(apiKey string, projectId string) *FirebaseAuthRestClient {
	return &FirebaseAuthRestClient{
		apiKey:    apiKey,
		projectId: projectId,
		httpClient: &http.Client{
			Timeout: time.Second * 100,
		},
	}
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("Google Identity Toolkit returned error: %v %v", e.Message, e.Code)
}

type IdTokenResponse struct {
	IdToken      string         `json:"idToken"`
	Email        string         `json:"email"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresIn    string         `json:"expiresIn"`
	LocalId      string         `json:"localId"`
	Registered   bool           `json:"registered"`
	Error        *ErrorResponse `json:"error"`
}

func (f *FirebaseAuthRestClient) SignInWithEmailAndPassword(ctx context.Context, email string, password string) (IdTokenResponse, error) {
	url := "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword?key=" + f.apiKey
	body := make(map[string]string, 0)
	body["email"] = email
	body["password"] = password
	body["returnSecureToken"] = "true"
	bodyJson, err := json.Marshal(body)
	if err != nil {
		return IdTokenResponse{}, err
	}
	bodyReader := bytes.NewReader(bodyJson)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bodyReader)
	if err != nil {
		return IdTokenResponse{}, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return IdTokenResponse{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return IdTokenResponse{}, fmt.Errorf("error reading response: %w", err)
	}

	response := IdTokenResponse{}
	err = json.Unmarshal(respBytes, &response)
	if err != nil {
		return IdTokenResponse{}, err
	}
	return response, nil
}

type RefreshTokenResponse struct {
	IdToken      string         `json:"id_token"`
	RefreshToken string         `json:"refresh_token"`
	ExpiresIn    string         `json:"expires_in"`
	UserId       string         `json:"user_id"`
	Error        *ErrorResponse `json:"error"`
}

// RefreshIdToken exchanges a refresh token for a fresh ID token via the
// secure token endpoint.
func (f *FirebaseAuthRestClient) RefreshIdToken(ctx context.Context, refreshToken string) (RefreshTokenResponse, error) {
	endpoint := "https://securetoken.googleapis.com/v1/token?key=" + f.apiKey
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return RefreshTokenResponse{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return RefreshTokenResponse{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return RefreshTokenResponse{}, fmt.Errorf("error reading response: %w", err)
	}

	response := RefreshTokenResponse{}
	err = json.Unmarshal(respBytes, &response)
	if err != nil {
		return RefreshTokenResponse{}, err
	}
	return response, nil
}
