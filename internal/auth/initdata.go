// Package auth はTelegram Mini Appの起動認証とセッション管理を提供する。
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// hmacKeySeed はTelegram Web Appの署名検証で規定されている固定キー。
// secret = HMAC-SHA256(key="WebAppData", message=botToken)
const hmacKeySeed = "WebAppData"

// maxClockSkew はauth_dateが未来を指す場合に許容する時計ずれの上限。
const maxClockSkew = 5 * time.Minute

// InitData はTelegramの起動ペイロードをパースした結果を表す。
// Pairsにはhashを除く全フィールドが含まれ、署名の再計算に使用する。
type InitData struct {
	Pairs    map[string]string
	Hash     string
	AuthDate time.Time
	RawUser  string
}

// TelegramUser は起動ペイロードのuserフィールドに埋め込まれた
// JSONユーザーオブジェクトを表す。
type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// ParseInitData は不透明な起動ペイロード文字列をパースする。
// hashフィールドまたはauth_dateフィールドがない場合、
// auth_dateが非負整数でない場合はエラーを返す。
func ParseInitData(raw string) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("起動ペイロードのパースに失敗しました: %w", err)
	}

	data := &InitData{Pairs: make(map[string]string, len(values))}
	for key := range values {
		if key == "hash" {
			data.Hash = values.Get(key)
			continue
		}
		data.Pairs[key] = values.Get(key)
	}

	if data.Hash == "" {
		return nil, fmt.Errorf("hashフィールドがありません")
	}

	rawAuthDate, ok := data.Pairs["auth_date"]
	if !ok {
		return nil, fmt.Errorf("auth_dateフィールドがありません")
	}
	unix, err := strconv.ParseInt(rawAuthDate, 10, 64)
	if err != nil || unix < 0 {
		return nil, fmt.Errorf("auth_dateが不正です: %q", rawAuthDate)
	}
	data.AuthDate = time.Unix(unix, 0)

	data.RawUser = data.Pairs["user"]

	return data, nil
}

// VerifyInitData は起動ペイロードの署名と鮮度を検証する。
// 署名検証はTelegramの規定どおり:
//  1. hashを除いたペアをキーのバイト昇順にソート
//  2. "key=value" を "\n" で連結（末尾改行なし）
//  3. secret = HMAC-SHA256(key="WebAppData", message=botToken)
//  4. HMAC-SHA256(key=secret, message=dataCheckString) のhexとhashを比較
//
// 比較は定数時間で行う。署名一致と鮮度（now - auth_date <= maxAge）の
// 両方を満たした場合のみnilを返し、それ以外は理由を区別せずエラーを返す。
// パース不能な入力でもpanicせず必ずエラーで返る（fail closed）。
func VerifyInitData(raw, botToken string, maxAge time.Duration, now time.Time) (*InitData, error) {
	data, err := ParseInitData(raw)
	if err != nil {
		return nil, err
	}

	expected := computeSignature(data.Pairs, botToken)
	provided, err := hex.DecodeString(data.Hash)
	if err != nil {
		return nil, fmt.Errorf("hashフィールドが不正です")
	}
	if !hmac.Equal(provided, expected) {
		return nil, fmt.Errorf("署名が一致しません")
	}

	// 鮮度検証は署名とは独立に行う
	age := now.Sub(data.AuthDate)
	if age > maxAge {
		return nil, fmt.Errorf("起動ペイロードの有効期限が切れています")
	}
	if age < -maxClockSkew {
		return nil, fmt.Errorf("auth_dateが未来を指しています")
	}

	return data, nil
}

// ParseUser は起動ペイロードのuserフィールド（JSON文字列）をパースする。
// フィールドがない、JSONが不正、数値IDがない場合はエラーを返す。
func (d *InitData) ParseUser() (*TelegramUser, error) {
	if d.RawUser == "" {
		return nil, fmt.Errorf("userフィールドがありません")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(d.RawUser), &user); err != nil {
		return nil, fmt.Errorf("userフィールドのパースに失敗しました: %w", err)
	}
	if user.ID <= 0 {
		return nil, fmt.Errorf("userフィールドに有効なIDがありません")
	}
	return &user, nil
}

// computeSignature はdata-check-stringのHMAC-SHA256署名を計算する。
func computeSignature(pairs map[string]string, botToken string) []byte {
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

	seed := hmac.New(sha256.New, []byte(hmacKeySeed))
	seed.Write([]byte(botToken))
	secret := seed.Sum(nil)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(dataCheckString))
	return mac.Sum(nil)
}
