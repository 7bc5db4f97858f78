package postgres

const (
	purgeExpiredTasksQuery = `
DELETE FROM progress_tasks
WHERE task_id IN (
    SELECT task_id FROM progress_tasks WHERE expires_at <= $1 LIMIT 100
)`

	deleteExpiredTaskQuery = `
DELETE FROM progress_tasks WHERE task_id = $1 AND expires_at <= $2`

	insertTaskQuery = `
INSERT INTO progress_tasks (task_id, label, status, created_at, updated_at, expires_at)
VALUES ($1, $2, 'queued', $3, $3, $4)
ON CONFLICT (task_id) DO NOTHING`

	lockTaskQuery = `
SELECT status, input_expires_at FROM progress_tasks
WHERE task_id = $1 AND expires_at > $2
FOR UPDATE`

	getStageStatusQuery = `
SELECT status FROM progress_stages WHERE task_id = $1 AND stage = $2`

	insertStageQuery = `
INSERT INTO progress_stages (task_id, stage, status, message, data, ts)
VALUES ($1, $2, $3, $4, $5, $6)`

	updateStageQuery = `
UPDATE progress_stages
SET status = $3, message = $4, data = COALESCE($5, data), ts = $6
WHERE task_id = $1 AND stage = $2`

	touchTaskQuery = `
UPDATE progress_tasks
SET updated_at = GREATEST(updated_at, $2), expires_at = $3
WHERE task_id = $1`

	updateStatusQuery = `
UPDATE progress_tasks
SET status = $2,
    result = CASE WHEN $2 = 'completed' THEN $3 ELSE result END,
    error = CASE WHEN $2 = 'failed' THEN $4 ELSE error END,
    updated_at = GREATEST(updated_at, $5),
    expires_at = $6
WHERE task_id = $1`

	getTaskQuery = `
SELECT task_id, label, status, result, error, created_at, updated_at, input_expires_at
FROM progress_tasks
WHERE task_id = $1 AND expires_at > $2`

	listRecentTasksQuery = `
SELECT task_id, label, status, result, error, created_at, updated_at, input_expires_at
FROM progress_tasks
WHERE expires_at > $1
ORDER BY created_at DESC, task_id DESC
LIMIT $2`

	listStagesQuery = `
SELECT task_id, stage, status, message, data, ts
FROM progress_stages
WHERE task_id = ANY($1)
ORDER BY task_id, position`

	insertInputQuery = `
INSERT INTO progress_inputs (task_id, data, expires_at) VALUES ($1, $2, $3)`

	markInputQuery = `
UPDATE progress_tasks SET input_expires_at = $2 WHERE task_id = $1`

	getInputQuery = `
SELECT t.input_expires_at, i.data
FROM progress_tasks t
LEFT JOIN progress_inputs i ON i.task_id = t.task_id
WHERE t.task_id = $1 AND t.expires_at > $2`

	deleteTaskQuery = `
DELETE FROM progress_tasks WHERE task_id = $1`
)
