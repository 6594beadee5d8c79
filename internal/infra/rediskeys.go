package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "agentpay"
)

// RedisKeyPolicy JSON одной политики по ее ID
func RedisKeyPolicy(policyID string) string {
	return fmt.Sprintf("%s:policies:%s", RedisNamespace, policyID)
}

// RedisKeyOwnerPolicies список ID политик владельца в порядке создания (RPUSH)
func RedisKeyOwnerPolicies(ownerKey string) string {
	return fmt.Sprintf("%s:owners:%s:policies", RedisNamespace, ownerKey)
}

// RedisKeyNonce одноразовый challenge для входа кошельком (живет nonce_ttl)
func RedisKeyNonce(address string) string {
	return fmt.Sprintf("%s:auth:nonce:%s", RedisNamespace, address)
}
