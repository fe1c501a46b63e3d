package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

// signInitData はテスト用に正しい署名付きの起動ペイロードを生成する。
// Telegramサーバー側の署名手順を再現する。
func signInitData(t *testing.T, pairs map[string]string, botToken string) string {
	t.Helper()

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+pairs[key])
	}
	dataCheckString := strings.Join(lines, "\n")

	seed := hmac.New(sha256.New, []byte("WebAppData"))
	seed.Write([]byte(botToken))
	secret := seed.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	hash := hex.EncodeToString(mac.Sum(nil))

	values := url.Values{}
	for key, value := range pairs {
		values.Set(key, value)
	}
	values.Set("hash", hash)
	return values.Encode()
}

func validPairs(authDate time.Time) map[string]string {
	return map[string]string{
		"query_id":  "AAHdF6IQAAAAAN0XohDhrOrc",
		"user":      `{"id":279058397,"first_name":"太郎","last_name":"山田","username":"taro"}`,
		"auth_date": fmt.Sprintf("%d", authDate.Unix()),
	}
}

func TestVerifyInitData_ValidPayload(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signInitData(t, validPairs(now.Add(-time.Minute)), testBotToken)

	data, err := VerifyInitData(raw, testBotToken, time.Hour, now)
	if err != nil {
		t.Fatalf("expected valid payload to verify, got error: %v", err)
	}
	if data.RawUser == "" {
		t.Error("expected user field to be preserved")
	}
}

func TestVerifyInitData_WrongBotToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := signInitData(t, validPairs(now.Add(-time.Minute)), "999999:other-bot-token")

	if _, err := VerifyInitData(raw, testBotToken, time.Hour, now); err == nil {
		t.Error("expected verification to fail with a different bot token")
	}
}

// TestVerifyInitData_AnyMutationFlipsResult はペイロードのいずれかの
// フィールドを改ざんすると検証が失敗することを検証する。
func TestVerifyInitData_AnyMutationFlipsResult(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(pairs map[string]string)
	}{
		{"userのIDを改ざん", func(p map[string]string) {
			p["user"] = `{"id":999999,"first_name":"太郎","last_name":"山田","username":"taro"}`
		}},
		{"auth_dateを改ざん", func(p map[string]string) {
			p["auth_date"] = fmt.Sprintf("%d", now.Unix())
		}},
		{"フィールドを追加", func(p map[string]string) {
			p["premium"] = "true"
		}},
		{"query_idを削除", func(p map[string]string) {
			delete(p, "query_id")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs := validPairs(now.Add(-time.Minute))
			raw := signInitData(t, pairs, testBotToken)

			// 署名後にフィールドを改ざんして再構築する
			values, err := url.ParseQuery(raw)
			if err != nil {
				t.Fatalf("failed to parse signed payload: %v", err)
			}
			mutated := map[string]string{}
			for key := range values {
				mutated[key] = values.Get(key)
			}
			hash := mutated["hash"]
			delete(mutated, "hash")
			tt.mutate(mutated)

			rebuilt := url.Values{}
			for key, value := range mutated {
				rebuilt.Set(key, value)
			}
			rebuilt.Set("hash", hash)

			if _, err := VerifyInitData(rebuilt.Encode(), testBotToken, time.Hour, now); err == nil {
				t.Error("expected mutated payload to fail verification")
			}
		})
	}
}

// TestVerifyInitData_Staleness は署名が正しくても期限切れの
// ペイロードが拒否されることを検証する。
func TestVerifyInitData_Staleness(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	maxAge := time.Hour

	tests := []struct {
		name     string
		authDate time.Time
		wantOK   bool
	}{
		{"発行直後", now.Add(-time.Second), true},
		{"期限ぎりぎり", now.Add(-maxAge), true},
		{"期限切れ", now.Add(-maxAge - time.Second), false},
		{"大幅に期限切れ", now.Add(-24 * time.Hour), false},
		{"時計ずれの範囲内の未来", now.Add(time.Minute), true},
		{"許容を超える未来", now.Add(10 * time.Minute), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := signInitData(t, validPairs(tt.authDate), testBotToken)
			_, err := VerifyInitData(raw, testBotToken, maxAge, now)
			if tt.wantOK && err != nil {
				t.Errorf("expected payload to verify, got error: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Error("expected stale payload to be rejected")
			}
		})
	}
}

func TestVerifyInitData_MalformedInputs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
	}{
		{"空文字列", ""},
		{"hashなし", "auth_date=1748779200&user=%7B%22id%22%3A1%7D"},
		{"auth_dateなし", "hash=deadbeef&user=%7B%22id%22%3A1%7D"},
		{"auth_dateが数値でない", "hash=deadbeef&auth_date=tomorrow"},
		{"auth_dateが負数", "hash=deadbeef&auth_date=-1"},
		{"hashがhexでない", "hash=zzzz&auth_date=1748779200"},
		{"クエリとして不正", "a=%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyInitData(tt.raw, testBotToken, time.Hour, now); err == nil {
				t.Error("expected malformed payload to be rejected")
			}
		})
	}
}

func TestParseUser(t *testing.T) {
	tests := []struct {
		name    string
		rawUser string
		wantErr bool
		wantID  int64
	}{
		{"正常なユーザー", `{"id":279058397,"first_name":"太郎","username":"taro"}`, false, 279058397},
		{"userフィールドなし", "", true, 0},
		{"JSONとして不正", "{not json}", true, 0},
		{"IDなし", `{"first_name":"太郎"}`, true, 0},
		{"IDがゼロ", `{"id":0}`, true, 0},
		{"IDが負数", `{"id":-5}`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &InitData{RawUser: tt.rawUser}
			user, err := data.ParseUser()
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user.ID != tt.wantID {
				t.Errorf("ID = %d, want %d", user.ID, tt.wantID)
			}
		})
	}
}

// TestComputeSignature_SortedByteOrder はdata-check-stringの連結順が
// キーのバイト昇順であることを検証する。
func TestComputeSignature_SortedByteOrder(t *testing.T) {
	pairs := map[string]string{
		"b": "2",
		"a": "1",
		"c": "3",
	}

	got := computeSignature(pairs, testBotToken)

	// 手で構築したdata-check-stringと一致すること
	seed := hmac.New(sha256.New, []byte("WebAppData"))
	seed.Write([]byte(testBotToken))
	secret := seed.Sum(nil)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("a=1\nb=2\nc=3"))
	want := mac.Sum(nil)

	if !hmac.Equal(got, want) {
		t.Error("signature does not match byte-sorted data-check-string")
	}
}
