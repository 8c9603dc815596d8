package mcpserver

// StorageLayout describes where unsaved notebook content is kept and how
// recovery picks between locations.
const StorageLayout = `# nbkeep Hot-Exit Storage Layout

Unsaved notebook content ("dirty" content) survives restarts in three places.
Recovery checks them in this order and the first hit wins.

## 1. Backup files (current)

- Directory: the configured ` + "`storage.global_storage_path`" + `.
- File name: ` + "`<xxhash64 of the storage key, 16 hex digits>.ipynb`" + `.
- Body: ` + "`{\"contents\": \"<notebook JSON text>\", \"lastModifiedTimeMs\": <unix ms>}`" + `.
- A backup is stale, and ignored, when the notebook file on disk was modified
  after ` + "`lastModifiedTimeMs`" + `. Untitled notebooks are never stale.

## 2. Legacy global key/value entries

- Keys start with ` + "`notebook-storage-`" + `.
- Values are either the bare notebook text or the backup file body above.
- The first hit moves every legacy entry into backup files (an existing backup
  file wins) and removes the entries. The sweep runs once per installation.

## 3. Legacy workspace key/value entries

- Consulted only for notebooks with a file on disk.
- An entry is deleted as soon as it is read.

## Storage keys

- Default key: ` + "`notebook-storage-<notebook uri>`" + `.
- Explicit backup id: ` + "`<file name>-<uuid>`" + `, from the ` + "`generate_backup_id`" + ` tool.
`
