package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Automations with their editable draft graph
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'published', 'paused')),
				is_active BOOLEAN NOT NULL DEFAULT true,
				triggers JSONB NOT NULL DEFAULT '[]',
				channels JSONB NOT NULL DEFAULT '[]',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				published_version_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automations_owner_id ON automations(owner_id) WHERE deleted_at IS NULL;

			-- Immutable published snapshots
			CREATE TABLE automation_versions (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id),
				version INTEGER NOT NULL,
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL,
				is_published BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (automation_id, version)
			);

			CREATE UNIQUE INDEX idx_automation_versions_published
				ON automation_versions(automation_id) WHERE is_published;
		`,
		2: `
			CREATE TABLE executions (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL REFERENCES automations(id),
				version_id UUID NOT NULL REFERENCES automation_versions(id),
				owner_id VARCHAR(255) NOT NULL,
				recipient_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'finished', 'failed')),
				context JSONB NOT NULL DEFAULT '{}',
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_automation_recipient
				ON executions(automation_id, recipient_id, created_at DESC);

			CREATE TABLE jobs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES executions(id),
				run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('queued', 'processing', 'done', 'failed')),
				payload JSONB NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				claimed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_due ON jobs(run_at) WHERE status = 'queued';
			CREATE INDEX idx_jobs_claimed ON jobs(claimed_at) WHERE status = 'processing';
			CREATE INDEX idx_jobs_execution_id ON jobs(execution_id);
		`,
		3: `
			CREATE TABLE credentials (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				channel_account_id VARCHAR(255) NOT NULL UNIQUE,
				access_token TEXT NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				needs_reconnect BOOLEAN NOT NULL DEFAULT false,
				reconnect_reason TEXT NOT NULL DEFAULT '',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_credentials_owner_id ON credentials(owner_id);

			CREATE TABLE inbound_events (
				id BIGSERIAL PRIMARY KEY,
				payload BYTEA NOT NULL,
				received_at TIMESTAMP WITH TIME ZONE NOT NULL,
				processed_at TIMESTAMP WITH TIME ZONE,
				error TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_inbound_events_unprocessed ON inbound_events(id) WHERE processed_at IS NULL;

			CREATE TABLE recipient_tags (
				owner_id VARCHAR(255) NOT NULL,
				recipient_id VARCHAR(255) NOT NULL,
				tag VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (owner_id, recipient_id, tag)
			);
		`,
		4: `
			-- Dedup compares against when the triggering message arrived, not when it was dispatched
			ALTER TABLE executions ADD COLUMN triggered_at TIMESTAMP WITH TIME ZONE;
			UPDATE executions SET triggered_at = created_at;
			ALTER TABLE executions ALTER COLUMN triggered_at SET NOT NULL;

			DROP INDEX idx_executions_automation_recipient;
			CREATE INDEX idx_executions_automation_recipient
				ON executions(automation_id, recipient_id, triggered_at DESC);
		`,
	}
}
