package margin

// Binance USDT-M perpetual brackets for BTCUSDT.
var btcusdtTiers = []Tier{
	{PositionBracket: 50_000, MaxLeverage: 125, MaintenanceRate: 0.004, MaintenanceAmount: 0},
	{PositionBracket: 250_000, MaxLeverage: 100, MaintenanceRate: 0.005, MaintenanceAmount: 50},
	{PositionBracket: 3_000_000, MaxLeverage: 50, MaintenanceRate: 0.01, MaintenanceAmount: 1_300},
	{PositionBracket: 15_000_000, MaxLeverage: 20, MaintenanceRate: 0.025, MaintenanceAmount: 46_300},
	{PositionBracket: 30_000_000, MaxLeverage: 10, MaintenanceRate: 0.05, MaintenanceAmount: 421_300},
	{PositionBracket: 80_000_000, MaxLeverage: 5, MaintenanceRate: 0.1, MaintenanceAmount: 1_921_300},
	{PositionBracket: 100_000_000, MaxLeverage: 4, MaintenanceRate: 0.125, MaintenanceAmount: 3_921_300},
	{PositionBracket: 200_000_000, MaxLeverage: 3, MaintenanceRate: 0.15, MaintenanceAmount: 6_421_300},
	{PositionBracket: 300_000_000, MaxLeverage: 2, MaintenanceRate: 0.25, MaintenanceAmount: 26_421_300},
	{PositionBracket: 500_000_000, MaxLeverage: 1, MaintenanceRate: 0.5, MaintenanceAmount: 101_421_300},
}

// DefaultTables returns the built-in tables.
func DefaultTables() Tables {
	return Tables{
		"BTCUSDT": {Pair: "BTCUSDT", MinBaseUnit: 0.001, Tiers: append([]Tier(nil), btcusdtTiers...)},
	}
}
