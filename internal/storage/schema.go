package storage

// schemaDDL creates all tables and hot-path indexes. Statements are
// idempotent so Migrate can run on every boot.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id              text PRIMARY KEY,
    settle_address  text NOT NULL DEFAULT '',
    refund_address  text NOT NULL DEFAULT '',
    coin_balance    numeric(20, 2) NOT NULL DEFAULT 0,
    is_admin        boolean NOT NULL DEFAULT false,
    created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS user_settings (
    user_id            text PRIMARY KEY REFERENCES users(id),
    slippage_tolerance numeric(5, 4) NOT NULL DEFAULT 0.0050,
    default_network    text NOT NULL DEFAULT '',
    notify_on_settle   boolean NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS orders (
    id              bigserial PRIMARY KEY,
    external_id     text NOT NULL UNIQUE,
    user_id         text NOT NULL REFERENCES users(id),
    from_asset      text NOT NULL,
    from_network    text NOT NULL,
    from_amount     numeric(30, 8) NOT NULL,
    to_asset        text NOT NULL,
    to_network      text NOT NULL,
    settle_amount   numeric(30, 8) NOT NULL,
    deposit_address text NOT NULL DEFAULT '',
    deposit_memo    text NOT NULL DEFAULT '',
    status          text NOT NULL,
    created_at      timestamptz NOT NULL DEFAULT now(),
    updated_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_nonterminal ON orders(status)
    WHERE status NOT IN ('settled', 'expired', 'refunded', 'failed');

CREATE TABLE IF NOT EXISTS watched_orders (
    sideshift_order_id text PRIMARY KEY,
    user_id            text NOT NULL,
    last_status        text NOT NULL,
    created_at         timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dca_plans (
    id                bigserial PRIMARY KEY,
    user_id           text NOT NULL REFERENCES users(id),
    from_asset        text NOT NULL,
    from_network      text NOT NULL,
    to_asset          text NOT NULL,
    to_network        text NOT NULL,
    amount            numeric(30, 8) NOT NULL,
    interval_hours    integer NOT NULL CHECK (interval_hours > 0),
    next_execution_at timestamptz NOT NULL,
    is_active         boolean NOT NULL DEFAULT true,
    executed_count    integer NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_dca_due ON dca_plans(is_active, next_execution_at);

CREATE TABLE IF NOT EXISTS limit_orders (
    id           bigserial PRIMARY KEY,
    user_id      text NOT NULL REFERENCES users(id),
    from_asset   text NOT NULL,
    from_network text NOT NULL,
    to_asset     text NOT NULL,
    to_network   text NOT NULL,
    amount       numeric(30, 8) NOT NULL,
    target_price numeric(30, 8) NOT NULL,
    condition    text NOT NULL CHECK (condition IN ('above', 'below')),
    ref_asset    text NOT NULL,
    ref_chain    text NOT NULL,
    status       text NOT NULL DEFAULT 'armed',
    retry_count  integer NOT NULL DEFAULT 0,
    retry_after  timestamptz,
    triggered_at timestamptz,
    last_error   text NOT NULL DEFAULT '',
    created_at   timestamptz NOT NULL DEFAULT now()
);

ALTER TABLE limit_orders ADD COLUMN IF NOT EXISTS triggered_at timestamptz;

CREATE INDEX IF NOT EXISTS idx_limit_armed ON limit_orders(status, retry_after);

CREATE TABLE IF NOT EXISTS price_snapshots (
    asset      text NOT NULL,
    chain      text NOT NULL,
    price      numeric(30, 8) NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now(),
    expires_at timestamptz NOT NULL,
    PRIMARY KEY (asset, chain)
);

CREATE TABLE IF NOT EXISTS status_log (
    id          bigserial PRIMARY KEY,
    order_id    text NOT NULL,
    old_status  text NOT NULL,
    new_status  text NOT NULL,
    fingerprint text NOT NULL DEFAULT '',
    emitted_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_status_log_order ON status_log(order_id, id);

CREATE TABLE IF NOT EXISTS coin_gift_logs (
    id             bigserial PRIMARY KEY,
    target_user_id text NOT NULL,
    admin_id       text NOT NULL,
    action         text NOT NULL CHECK (action IN ('gift', 'deduct', 'reset')),
    amount         numeric(20, 2) NOT NULL,
    note           text NOT NULL DEFAULT '',
    created_at     timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_coin_gift_target ON coin_gift_logs(target_user_id);
CREATE INDEX IF NOT EXISTS idx_coin_gift_admin ON coin_gift_logs(admin_id);
CREATE INDEX IF NOT EXISTS idx_coin_gift_created ON coin_gift_logs(created_at);

CREATE TABLE IF NOT EXISTS conversations (
    id         bigserial PRIMARY KEY,
    user_id    text NOT NULL UNIQUE,
    state      text NOT NULL DEFAULT '{}',
    version    bigint NOT NULL DEFAULT 0,
    updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id              bigserial PRIMARY KEY,
    conversation_id bigint NOT NULL REFERENCES conversations(id),
    user_id         text NOT NULL,
    role            text NOT NULL,
    content         text NOT NULL,
    created_at      timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_conv ON chat_messages(conversation_id, id);

CREATE TABLE IF NOT EXISTS discussions (
    id         bigserial PRIMARY KEY,
    user_id    text NOT NULL,
    title      text NOT NULL,
    body       text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discussions_created ON discussions(created_at DESC);

CREATE TABLE IF NOT EXISTS admin_audit_log (
    id         bigserial PRIMARY KEY,
    admin_id   text NOT NULL,
    action     text NOT NULL,
    target_id  text NOT NULL DEFAULT '',
    detail     text NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT now()
);
`
