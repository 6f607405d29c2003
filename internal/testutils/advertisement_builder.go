package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blecentral/internal/device"
)

// FakeAdvertisement is a static device.Advertisement.
type FakeAdvertisement struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Rssi        int      `json:"rssi"`
	ServiceIDs  []string `json:"services"`
	Manufacture []byte   `json:"manufacturer_data"`
	TxPower     int      `json:"tx_power"`
	IsConnect   bool     `json:"connectable"`
	SvcData     []struct {
		UUID string
		Data []byte
	} `json:"service_data"`
}

var _ device.Advertisement = (*FakeAdvertisement)(nil)

func (a *FakeAdvertisement) LocalName() string        { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.Manufacture }
func (a *FakeAdvertisement) ServiceData() []struct {
	UUID string
	Data []byte
} {
	return a.SvcData
}
func (a *FakeAdvertisement) Services() []string { return a.ServiceIDs }
func (a *FakeAdvertisement) TxPowerLevel() int  { return a.TxPower }
func (a *FakeAdvertisement) Connectable() bool  { return a.IsConnect }
func (a *FakeAdvertisement) RSSI() int          { return a.Rssi }
func (a *FakeAdvertisement) Addr() string       { return a.Address }

// AdvertisementBuilder builds FakeAdvertisement values with a fluent API.
//
//	adv := testutils.NewAdvertisementBuilder().
//	    WithAddress("AA:BB:CC:DD:EE:FF").
//	    WithName("HeartRate1").
//	    WithServices("180d").
//	    Build()
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder starts from a connectable advertisement at -50 dBm without TX power.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{
		Rssi:      -50,
		TxPower:   127,
		IsConnect: true,
	}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceIDs = append(b.adv.ServiceIDs, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.Manufacture = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.adv.SvcData = append(b.adv.SvcData, struct {
		UUID string
		Data []byte
	}{UUID: uuid, Data: data})
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.adv.TxPower = power
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnect = c
	return b
}

// FromJSON overlays fields decoded from a JSON object. Panics on invalid JSON.
//
//	{"name": "Sensor", "address": "AA:BB", "rssi": -40, "services": ["180f"]}
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	raw := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(raw), &b.adv); err != nil {
		panic(fmt.Sprintf("invalid advertisement JSON: %v\n%s", err, raw))
	}
	return b
}

func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	return &adv
}
