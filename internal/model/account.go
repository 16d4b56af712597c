package model

// Account is one managed identity in the referral ring.
type Account struct {
	Index      int    `json:"index"`
	ID         string `json:"id"`
	Credential string `json:"-"`
	Referrer   string `json:"referrer"`
	Downline   string `json:"downline"`
}

// Masked shortens the account ID for reports, e.g. 0xbae...d538b8.
func (a Account) Masked() string {
	if len(a.ID) <= 11 {
		return a.ID
	}
	return a.ID[:5] + "..." + a.ID[len(a.ID)-6:]
}
