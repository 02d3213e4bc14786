package api

const submitSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["request_id", "from_account", "asset", "amount", "type"],
  "properties": {
    "request_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "from_account": {"type": "string", "minLength": 1},
    "to_account": {"type": "string"},
    "asset": {"type": "string", "minLength": 1, "maxLength": 32},
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "type": {"type": "string", "enum": ["DEPOSIT", "WITHDRAWAL", "TRANSFER", "CRYPTO_BUY", "CRYPTO_SELL", "GIFTCARD_SETTLE", "BILL_PAYMENT"]},
    "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["owner_id", "number", "class", "asset"],
  "properties": {
    "id": {"type": "string"},
    "owner_id": {"type": "string", "minLength": 1},
    "number": {"type": "string", "minLength": 1, "maxLength": 50},
    "class": {"type": "string", "enum": ["SAVINGS", "CURRENT", "FIXED_DEPOSIT", "BUSINESS", "CRYPTO_WALLET", "FEE"]},
    "asset": {"type": "string", "minLength": 1, "maxLength": 32},
    "overdraft_limit": {"type": "integer", "minimum": 0}
  }
}`

const setStatusSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["ACTIVE", "FROZEN", "SUSPENDED"]}
  }
}`
