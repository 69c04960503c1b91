package kafka

// Kafka topic 名称
const (
	TopicClaims            = "ubi-claims"             // 领取记录 (ubi → 结算层)
	TopicDistributions     = "ubi-distributions"      // 社区分配 (ubi → 结算层)
	TopicSettlementResults = "ubi-settlement-results" // 结算回执 (结算层 → ubi)
)
