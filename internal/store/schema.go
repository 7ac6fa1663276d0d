package store

// Database schema definitions for the market service. Constraint and index
// names are referenced by ConflictError mapping and must match the
// Constraint* constants.

const createWalletAddressTable = `
CREATE TABLE IF NOT EXISTS market_wallet_address (
    wallet_address TEXT NOT NULL,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT wallet_address_wallet_address_key UNIQUE (wallet_address)
);
CREATE UNIQUE INDEX IF NOT EXISTS wallet_address_singleton_idx ON market_wallet_address ((true));
`

const createSessionTable = `
CREATE TABLE IF NOT EXISTS market_session (
    id BIGSERIAL PRIMARY KEY,
    session_number INTEGER NOT NULL,
    session_date DATE NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'staged'
        CHECK (status IN ('staged', 'open', 'closed', 'running', 'finished')),
    staged_ts TIMESTAMPTZ,
    open_ts TIMESTAMPTZ,
    close_ts TIMESTAMPTZ,
    launch_ts TIMESTAMPTZ,
    finish_ts TIMESTAMPTZ,
    market_price NUMERIC NOT NULL DEFAULT 0,
    b_min NUMERIC NOT NULL DEFAULT 0,
    b_max NUMERIC NOT NULL DEFAULT 0,
    n_price_steps INTEGER NOT NULL DEFAULT 0,
    delta NUMERIC NOT NULL DEFAULT 0,

    CONSTRAINT sessions_number_date_key UNIQUE (session_number, session_date)
);
CREATE UNIQUE INDEX IF NOT EXISTS sessions_single_open_idx ON market_session (status) WHERE status = 'open';
`

const createBidTables = `
CREATE TABLE IF NOT EXISTS market_session_bid (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    resource_id UUID NOT NULL,
    market_session_id BIGINT NOT NULL REFERENCES market_session(id) ON DELETE CASCADE,
    bid_price NUMERIC NOT NULL,
    max_payment NUMERIC NOT NULL,
    gain_func VARCHAR(8) NOT NULL CHECK (gain_func IN ('mse', 'rmse', 'mae')),
    confirmed BOOLEAN NOT NULL DEFAULT FALSE,
    has_forecasts BOOLEAN NOT NULL DEFAULT FALSE,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT bids_user_resource_session_key UNIQUE (user_id, resource_id, market_session_id)
);

CREATE TABLE IF NOT EXISTS market_session_bid_payment (
    bid_id UUID NOT NULL REFERENCES market_session_bid(id) ON DELETE CASCADE,
    tangle_msg_id TEXT NOT NULL,
    is_solid BOOLEAN NOT NULL DEFAULT FALSE,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT bid_payments_pkey PRIMARY KEY (bid_id),
    CONSTRAINT bid_payments_tangle_msg_id_key UNIQUE (tangle_msg_id)
);
`

const createBalanceTables = `
CREATE TABLE IF NOT EXISTS market_balance (
    user_id UUID PRIMARY KEY,
    balance NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
    total_deposit NUMERIC NOT NULL DEFAULT 0,
    total_withdraw NUMERIC NOT NULL DEFAULT 0,
    total_payment NUMERIC NOT NULL DEFAULT 0,
    total_revenue NUMERIC NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS market_session_balance (
    market_session_id BIGINT NOT NULL REFERENCES market_session(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    resource_id UUID NOT NULL,
    session_balance NUMERIC NOT NULL DEFAULT 0 CHECK (session_balance >= 0),
    session_deposit NUMERIC NOT NULL DEFAULT 0,
    session_payment NUMERIC NOT NULL DEFAULT 0,
    session_revenue NUMERIC NOT NULL DEFAULT 0,
    session_withdraw NUMERIC NOT NULL DEFAULT 0,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (market_session_id, user_id, resource_id)
);

CREATE TABLE IF NOT EXISTS market_session_transactions (
    id BIGSERIAL PRIMARY KEY,
    market_session_id BIGINT NOT NULL REFERENCES market_session(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    resource_id UUID NOT NULL,
    amount NUMERIC NOT NULL,
    transaction_type VARCHAR(16) NOT NULL
        CHECK (transaction_type IN ('payment', 'revenue', 'transfer_in', 'transfer_out')),
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CONSTRAINT transactions_session_user_resource_type_key
        UNIQUE (market_session_id, user_id, resource_id, transaction_type),
    CONSTRAINT transactions_sign_check CHECK (
        (transaction_type IN ('payment', 'transfer_out') AND amount <= 0) OR
        (transaction_type IN ('revenue', 'transfer_in') AND amount >= 0)
    )
);

CREATE TABLE IF NOT EXISTS balance_transfer_out (
    id BIGSERIAL PRIMARY KEY,
    market_session_id BIGINT NOT NULL REFERENCES market_session(id),
    user_id UUID NOT NULL,
    resource_id UUID NOT NULL,
    amount NUMERIC NOT NULL CHECK (amount > 0),
    user_wallet_address TEXT NOT NULL,
    tangle_msg_id TEXT NOT NULL,
    is_solid BOOLEAN NOT NULL DEFAULT FALSE,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const createPricingTables = `
CREATE TABLE IF NOT EXISTS market_session_fee (
    market_session_id BIGINT PRIMARY KEY REFERENCES market_session(id) ON DELETE CASCADE,
    amount NUMERIC NOT NULL CHECK (amount >= 0),
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS market_session_price_weight (
    id BIGSERIAL PRIMARY KEY,
    market_session_id BIGINT NOT NULL REFERENCES market_session(id) ON DELETE CASCADE,
    weights_p NUMERIC NOT NULL,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_bids_session ON market_session_bid(market_session_id);
CREATE INDEX IF NOT EXISTS idx_bids_user ON market_session_bid(user_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON market_session_transactions(user_id);
CREATE INDEX IF NOT EXISTS idx_session_balance_user ON market_session_balance(user_id);
CREATE INDEX IF NOT EXISTS idx_transfer_out_user ON balance_transfer_out(user_id);
CREATE INDEX IF NOT EXISTS idx_price_weight_session ON market_session_price_weight(market_session_id);
`

var schema = []string{
	createWalletAddressTable,
	createSessionTable,
	createBidTables,
	createBalanceTables,
	createPricingTables,
	createIndexes,
}
