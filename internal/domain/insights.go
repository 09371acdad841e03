package domain

// DailyInsights aggregates assessment outcomes for an operator dashboard.
// When the requested day has no transactions the repository falls back to
// all-time aggregates and labels the result accordingly.
type DailyInsights struct {
	Date              string           `json:"date"`
	TotalTransactions int              `json:"total_transactions"`
	FraudCount        int              `json:"fraud_count"`
	FraudPercentage   float64          `json:"fraud_percentage"`
	RiskDistribution  RiskDistribution `json:"risk_distribution"`
	NighttimeAttacks  NighttimeStats   `json:"nighttime_attacks"`
	TopIPs            []IPTraffic      `json:"top_ips"`
}

// RiskDistribution counts assessments per risk level.
type RiskDistribution struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// NighttimeStats covers transactions between 22:00 and 06:00.
type NighttimeStats struct {
	Count     int     `json:"count"`
	FraudRate float64 `json:"fraud_rate"`
}

// IPTraffic is the transaction volume observed from a single IP.
type IPTraffic struct {
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}
