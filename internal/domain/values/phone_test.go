package values

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoneNumber(t *testing.T) {
	tests := []struct {
		name     string
		number   string
		expected string
		wantErr  bool
	}{
		{
			name:     "valid E.164 US number",
			number:   "+15551234567",
			expected: "+15551234567",
			wantErr:  false,
		},
		{
			name:     "US number with parentheses",
			number:   "(555) 123-4567",
			expected: "+15551234567",
			wantErr:  false,
		},
		{
			name:     "US number with dashes",
			number:   "555-123-4567",
			expected: "+15551234567",
			wantErr:  false,
		},
		{
			name:     "US number with country code",
			number:   "1-555-123-4567",
			expected: "+15551234567",
			wantErr:  false,
		},
		{
			name:     "Indian mobile number",
			number:   "+919876543210",
			expected: "+919876543210",
			wantErr:  false,
		},
		{
			name:    "empty number",
			number:  "",
			wantErr: true,
		},
		{
			name:    "too short",
			number:  "123",
			wantErr: true,
		},
		{
			name:    "invalid characters",
			number:  "abc-def-ghij",
			wantErr: true,
		},
		{
			name:    "too long",
			number:  "+1234567890123456789",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phone, err := NewPhoneNumber(tt.number)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, phone.String())
		})
	}
}

func TestNewPhoneNumberE164(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		wantErr bool
	}{
		{
			name:    "valid E.164",
			number:  "+15551234567",
			wantErr: false,
		},
		{
			name:    "missing plus",
			number:  "15551234567",
			wantErr: true,
		},
		{
			name:    "too long",
			number:  "+1234567890123456789",
			wantErr: true,
		},
		{
			name:    "starts with zero",
			number:  "+05551234567",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPhoneNumberE164(tt.number)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestPhoneNumber_Country(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		country string
		wantErr bool
	}{
		{
			name:    "US number with 11 digits",
			number:  "+12125551234",
			country: "US",
		},
		{
			name:    "Indian number with 12 digits",
			number:  "+919876543210",
			country: "IN",
		},
		{
			name:    "US prefix with wrong digit count",
			number:  "+1212555123",
			wantErr: true,
		},
		{
			name:    "Indian prefix with wrong digit count",
			number:  "+9198765432",
			wantErr: true,
		},
		{
			name:    "UK number is unrecognized",
			number:  "+442071234567",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phone, err := NewPhoneNumberE164(tt.number)
			require.NoError(t, err)

			country, err := phone.Country()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.country, country)
		})
	}
}

func TestPhoneNumber_CountryCode(t *testing.T) {
	us := MustNewPhoneNumber("+12125551234")
	assert.Equal(t, "+1", us.CountryCode())
	assert.Equal(t, "2125551234", us.NationalNumber())
	assert.True(t, us.IsUS())
	assert.Equal(t, "212", us.AreaCode())

	in := MustNewPhoneNumber("+919876543210")
	assert.Equal(t, "+91", in.CountryCode())
	assert.Equal(t, "9876543210", in.NationalNumber())
	assert.False(t, in.IsUS())
	assert.Empty(t, in.AreaCode())
}

func TestPhoneNumber_JSON(t *testing.T) {
	phone := MustNewPhoneNumber("+12125551234")

	data, err := json.Marshal(phone)
	require.NoError(t, err)
	assert.Equal(t, `"+12125551234"`, string(data))

	var decoded PhoneNumber
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, phone.Equal(decoded))

	assert.Error(t, json.Unmarshal([]byte(`"garbage"`), &decoded))
}

func TestPhoneNumber_Scan(t *testing.T) {
	var phone PhoneNumber

	require.NoError(t, phone.Scan("+12125551234"))
	assert.Equal(t, "+12125551234", phone.E164())

	require.NoError(t, phone.Scan(nil))
	assert.True(t, phone.IsEmpty())

	assert.Error(t, phone.Scan(42))
}
