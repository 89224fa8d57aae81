// Package seed loads the YAML catalog of permissions, roles and bootstrap
// users and applies it idempotently.
//
//	permissions:
//	  - name: manage_users
//	roles:
//	  - name: Admin
//	    superuser: true
//	  - name: HR Manager
//	    permissions: [manage_users]
//	users:
//	  - name: Admin User
//	    email: admin@example.com
//	    password: ${HRM_SEED_ADMIN_PASSWORD}
//	    role: Admin
//	    must_change_password: true
//
// A built-in catalog without users is available from Default.
package seed
