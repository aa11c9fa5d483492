package shared

// Document workflow permissions declared for RBAC.
const (
	// Purchase requisition permissions
	PermPRView    = "procurement.pr.view"
	PermPRCreate  = "procurement.pr.create"
	PermPRSubmit  = "procurement.pr.submit"
	PermPRApprove = "procurement.pr.approve"
	PermPRClose   = "procurement.pr.close"

	// Purchase order permissions
	PermPOView    = "procurement.po.view"
	PermPOCreate  = "procurement.po.create"
	PermPOSubmit  = "procurement.po.submit"
	PermPOApprove = "procurement.po.approve"
	PermPOClose   = "procurement.po.close"

	// Customer order permissions
	PermCOView    = "sales.co.view"
	PermCOCreate  = "sales.co.create"
	PermCOSubmit  = "sales.co.submit"
	PermCOApprove = "sales.co.approve"
	PermCOClose   = "sales.co.close"

	// Delivery order permissions
	PermDOView   = "delivery.do.view"
	PermDOCreate = "delivery.do.create"
	PermDOSubmit = "delivery.do.submit"
	PermDOClose  = "delivery.do.close"

	// Sales invoice permissions
	PermSIView   = "sales.si.view"
	PermSICreate = "sales.si.create"
	PermSISubmit = "sales.si.submit"
	PermSIClose  = "sales.si.close"
)

// ProcurementScopes lists permissions for purchase requisitions and orders.
func ProcurementScopes() []string {
	return []string{
		PermPRView,
		PermPRCreate,
		PermPRSubmit,
		PermPRApprove,
		PermPRClose,
		PermPOView,
		PermPOCreate,
		PermPOSubmit,
		PermPOApprove,
		PermPOClose,
	}
}

// SalesScopes lists permissions for customer orders and sales invoices.
func SalesScopes() []string {
	return []string{
		PermCOView,
		PermCOCreate,
		PermCOSubmit,
		PermCOApprove,
		PermCOClose,
		PermSIView,
		PermSICreate,
		PermSISubmit,
		PermSIClose,
	}
}

// DeliveryScopes lists permissions for delivery orders.
func DeliveryScopes() []string {
	return []string{
		PermDOView,
		PermDOCreate,
		PermDOSubmit,
		PermDOClose,
	}
}

// DocumentScopes returns every document workflow permission.
func DocumentScopes() []string {
	scopes := append(ProcurementScopes(), SalesScopes()...)
	return append(scopes, DeliveryScopes()...)
}

// PermissionDescriptions provides catalog descriptions for the compiled registry.
var PermissionDescriptions = map[string]string{
	PermPRView:    "View purchase requisitions",
	PermPRCreate:  "Create and edit draft purchase requisitions",
	PermPRSubmit:  "Submit purchase requisitions for review",
	PermPRApprove: "Approve or reject purchase requisitions",
	PermPRClose:   "Close purchase requisitions",
	PermPOView:    "View purchase orders",
	PermPOCreate:  "Create and edit draft purchase orders",
	PermPOSubmit:  "Submit purchase orders for review",
	PermPOApprove: "Approve or reject purchase orders",
	PermPOClose:   "Close purchase orders",
	PermCOView:    "View customer orders",
	PermCOCreate:  "Create and edit draft customer orders",
	PermCOSubmit:  "Submit customer orders for review",
	PermCOApprove: "Approve or reject customer orders",
	PermCOClose:   "Close customer orders",
	PermDOView:    "View delivery orders",
	PermDOCreate:  "Create and edit draft delivery orders",
	PermDOSubmit:  "Post delivery orders",
	PermDOClose:   "Close delivery orders",
	PermSIView:    "View sales invoices",
	PermSICreate:  "Create and edit draft sales invoices",
	PermSISubmit:  "Post sales invoices",
	PermSIClose:   "Close sales invoices",
}
